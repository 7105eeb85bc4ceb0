//go:build linux || darwin

// Package client 提供由 Reactor 驱动的分帧 TCP 客户端。
package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/rtpmidid/rtpio/internal/link"
	"github.com/rtpmidid/rtpio/internal/netutil"
	"github.com/rtpmidid/rtpio/protocol"
	"github.com/rtpmidid/rtpio/reactor"
)

var (
	ErrClosed      = link.ErrClosed
	ErrIdleTimeout = errors.New("client: idle timeout")
)

type Handler interface {
	// OnOpen 在连接建立后调用。
	OnOpen(c *Client)
	OnMessage(c *Client, api uint16, msg []byte) error
	// OnClose 恰好调用一次，连接失败时也会调用。
	OnClose(c *Client, err error)
}

type Options struct {
	RxRingSize int
	MaxPayload int
	Compress   bool
	// IdleTimeout 为 0 时不做空闲检测
	IdleTimeout time.Duration
	Logger      *logiface.Logger[logiface.Event]
}

type Client struct {
	r    *reactor.Reactor
	h    Handler
	opts Options
	lc   *link.Conn
	addr string
	idle reactor.Timer
}

// Dial 发起非阻塞连接并注册到 r；连接结果经由 Handler 异步通知。
// 地址解析或 socket 创建失败时直接返回错误。
// 设置了 IdleTimeout 时，连接关闭后空闲检测定时器仍会保留到下次到期（不再续期），
// 在此之前 Reactor 不会进入 ErrIdle。
func Dial(r *reactor.Reactor, network, address string, h Handler, opts Options) (*Client, error) {
	fd, inProgress, err := netutil.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s %s: %w", network, address, err)
	}
	c := &Client{r: r, h: h, opts: opts, addr: address}
	c.idle = reactor.TimerFunc(c.onIdleCheck)
	lc, err := link.Open(r, fd, link.Config{
		RxRingSize: opts.RxRingSize,
		MaxPayload: opts.MaxPayload,
		Compress:   opts.Compress,
		Logger:     opts.Logger,
	}, (*linkHandler)(c), inProgress)
	if err != nil {
		return nil, err
	}
	c.lc = lc
	return c, nil
}

// Addr 返回拨号时的目标地址。
func (c *Client) Addr() string { return c.addr }

// Connected 报告连接是否已建立且未关闭。
func (c *Client) Connected() bool {
	return c.lc != nil && !c.lc.Connecting() && !c.lc.Closed()
}

// Write 发送单帧；连接建立前写入的数据在连接建立后发出。
func (c *Client) Write(api uint16, msg []byte) error { return c.lc.Write(api, msg) }

func (c *Client) WriteBatch(items []protocol.BatchItem) error { return c.lc.WriteBatch(items) }

// Pending 返回尚未写出的帧数。
func (c *Client) Pending() int { return c.lc.Pending() }

func (c *Client) Close() error { return c.lc.Close() }

func (c *Client) onIdleCheck() error {
	if c.lc.Closed() {
		return nil
	}
	idle := c.r.Now().Sub(c.lc.LastActive())
	if idle >= c.opts.IdleTimeout {
		c.opts.Logger.Debug().Str("addr", c.addr).Dur("idle", idle).Log("client: idle timeout")
		return c.lc.CloseWithError(ErrIdleTimeout)
	}
	return c.r.ScheduleAfter(c.opts.IdleTimeout-idle, c.idle)
}

type linkHandler Client

func (h *linkHandler) OnOpen(lc *link.Conn) {
	c := (*Client)(h)
	c.lc = lc
	if c.opts.IdleTimeout > 0 {
		if err := c.r.ScheduleAfter(c.opts.IdleTimeout, c.idle); err != nil {
			c.opts.Logger.Err().Err(err).Log("client: schedule idle check")
		}
	}
	c.h.OnOpen(c)
}

func (h *linkHandler) OnMessage(_ *link.Conn, api uint16, msg []byte) error {
	return h.h.OnMessage((*Client)(h), api, msg)
}

func (h *linkHandler) OnClose(lc *link.Conn, err error) {
	c := (*Client)(h)
	c.lc = lc
	c.h.OnClose(c, err)
}
