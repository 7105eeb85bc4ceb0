//go:build linux

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	efd int
	buf []unix.EpollEvent
}

func New() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{efd: efd}, nil
}

// 不设置 EPOLLET：水平触发
func epollFlags(readable, writable bool) uint32 {
	var flag uint32
	if readable {
		flag |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if writable {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) Register(fd FD, readable, writable bool) error {
	if p.efd < 0 {
		return ErrClosed
	}
	ev := &unix.EpollEvent{Events: epollFlags(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Mod(fd FD, readable, writable bool) error {
	if p.efd < 0 {
		return ErrClosed
	}
	ev := &unix.EpollEvent{Events: epollFlags(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Unregister(fd FD) error {
	if p.efd < 0 {
		return ErrClosed
	}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	if p.efd < 0 {
		return 0, ErrClosed
	}
	if len(events) == 0 {
		return 0, nil
	}
	if cap(p.buf) < len(events) {
		p.buf = make([]unix.EpollEvent, len(events))
	}
	raw := p.buf[:len(events)]
	n, err := unix.EpollWait(p.efd, raw, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := raw[i]
		var e Events
		if ev.Events&unix.EPOLLIN != 0 {
			e |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			e |= EventWrite
		}
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			e |= EventHangup
		}
		if ev.Events&unix.EPOLLERR != 0 {
			e |= EventError
		}
		events[i] = Event{FD: int(ev.Fd), Events: e}
	}
	return n, nil
}

func (p *epollPoller) Close() error {
	if p.efd < 0 {
		return nil
	}
	efd := p.efd
	p.efd = -1
	return unix.Close(efd)
}

func (p *epollPoller) Handle() int { return p.efd }
