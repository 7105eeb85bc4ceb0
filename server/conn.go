//go:build linux || darwin

package server

import (
	"github.com/rtpmidid/rtpio/internal/link"
)

// Conn 为服务端连接；Write/WriteBatch/Close 等方法来自底层分帧连接，
// 只能在 Reactor 的 goroutine 中调用。
type Conn struct {
	*link.Conn

	ID   uint64
	Data any // 由使用方挂载的会话数据

	srv *Server
}

// connHandler 把底层连接事件转发给 Server 的 Handler
type connHandler Conn

func (h *connHandler) OnOpen(lc *link.Conn) {
	c := (*Conn)(h)
	c.Conn = lc
	c.srv.conns[c.ID] = c
	c.srv.h.OnOpen(c)
}

func (h *connHandler) OnMessage(_ *link.Conn, api uint16, msg []byte) error {
	c := (*Conn)(h)
	return c.srv.h.OnMessage(c, api, msg)
}

func (h *connHandler) OnClose(_ *link.Conn, err error) {
	c := (*Conn)(h)
	delete(c.srv.conns, c.ID)
	c.srv.h.OnClose(c, err)
}
