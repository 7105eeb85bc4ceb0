//go:build linux || darwin

// Package server 提供由 Reactor 驱动的分帧 TCP 服务端。
package server

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rtpmidid/rtpio/internal/link"
	"github.com/rtpmidid/rtpio/internal/netutil"
	"github.com/rtpmidid/rtpio/reactor"
)

// 单次可读事件最多接受的连接数，其余留给下一次 Wait
const acceptBatch = 64

var (
	ErrClosed      = errors.New("server: closed")
	ErrIdleTimeout = errors.New("server: idle timeout")
)

type Handler interface {
	OnOpen(c *Conn)
	// OnMessage 返回错误时关闭该连接。
	OnMessage(c *Conn, api uint16, msg []byte) error
	OnClose(c *Conn, err error)
}

type Server struct {
	r      *reactor.Reactor
	cfg    Config
	h      Handler
	lfd    int
	addr   string
	conns  map[uint64]*Conn
	nextID uint64
	closed bool

	accept reactor.Handler
	sweep  reactor.Timer
}

// New 在 cfg.ListenAddress 上监听，并把监听 fd 注册到 r。
func New(r *reactor.Reactor, cfg Config, h Handler) (*Server, error) {
	lfd, err := netutil.Listen(cfg.ListenNetwork, cfg.ListenAddress, cfg.ReusePort)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s %s: %w", cfg.ListenNetwork, cfg.ListenAddress, err)
	}
	s := &Server{
		r:     r,
		cfg:   cfg,
		h:     h,
		lfd:   lfd,
		conns: make(map[uint64]*Conn),
	}
	s.addr, _ = netutil.LocalAddr(lfd)
	s.accept = reactor.HandlerFunc(s.onAccept)
	s.sweep = reactor.TimerFunc(s.onSweep)

	if err := r.RegisterReadable(lfd, s.accept); err != nil {
		unix.Close(lfd)
		return nil, err
	}
	if cfg.IdleTimeout > 0 {
		if err := r.ScheduleAfter(s.sweepInterval(), s.sweep); err != nil {
			_ = r.Unregister(lfd)
			unix.Close(lfd)
			return nil, err
		}
	}
	cfg.Logger.Info().Str("addr", s.addr).Log("server: listening")
	return s, nil
}

// Addr 返回实际监听的地址（端口为 0 时可取得分配的端口）。
func (s *Server) Addr() string { return s.addr }

// NumConns 返回当前连接数。
func (s *Server) NumConns() int { return len(s.conns) }

// Close 停止监听并关闭所有连接；每个连接的 OnClose 收到 ErrClosed。
func (s *Server) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	var err error
	if s.r.IsOpen() {
		err = s.r.Unregister(s.lfd)
	}
	if cerr := unix.Close(s.lfd); err == nil {
		err = cerr
	}
	for _, c := range s.conns {
		_ = c.CloseWithError(ErrClosed)
	}
	s.cfg.Logger.Info().Str("addr", s.addr).Log("server: closed")
	return err
}

func (s *Server) onAccept(int) error {
	for i := 0; i < acceptBatch && !s.closed; i++ {
		fd, _, err := netutil.Accept(s.lfd)
		if err != nil {
			if netutil.IsTemporary(err) {
				return nil
			}
			if err == unix.ECONNABORTED {
				continue
			}
			// 如 EMFILE：水平触发下一次 Wait 会重试
			return fmt.Errorf("server: accept: %w", err)
		}
		s.nextID++
		c := &Conn{ID: s.nextID, srv: s}
		if _, err := link.Open(s.r, fd, link.Config{
			RxRingSize: s.cfg.RxRingSize,
			MaxPayload: s.cfg.MaxPayload,
			Compress:   s.cfg.Compress,
			Logger:     s.cfg.Logger,
		}, (*connHandler)(c), false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) sweepInterval() time.Duration {
	if s.cfg.SweepInterval > 0 {
		return s.cfg.SweepInterval
	}
	return s.cfg.IdleTimeout
}

// onSweep 关闭超过 IdleTimeout 没有收发数据的连接，然后重新调度自身。
func (s *Server) onSweep() error {
	if s.closed {
		return nil
	}
	now := s.r.Now()
	for _, c := range s.conns {
		if idle := now.Sub(c.LastActive()); idle >= s.cfg.IdleTimeout {
			s.cfg.Logger.Debug().Uint64("id", c.ID).Dur("idle", idle).Log("server: idle timeout")
			_ = c.CloseWithError(ErrIdleTimeout)
		}
	}
	return s.r.ScheduleAfter(s.sweepInterval(), s.sweep)
}
