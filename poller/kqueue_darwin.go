//go:build darwin

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kq  int
	buf []unix.Kevent_t
	idx map[int]int // 合并同一 fd 的读/写过滤器：fd -> events 下标
}

func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq, idx: make(map[int]int)}, nil
}

// 不设置 EV_CLEAR：水平触发
func (p *kqueuePoller) Register(fd FD, readable, writable bool) error {
	if p.kq < 0 {
		return ErrClosed
	}
	var changes []unix.Kevent_t
	if readable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	}
	if writable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Mod(fd FD, readable, writable bool) error {
	if p.kq < 0 {
		return ErrClosed
	}
	// kqueue 中按过滤器分别增删；删除不存在的过滤器返回 ENOENT，忽略
	if err := p.setFilter(fd, unix.EVFILT_READ, readable); err != nil {
		return err
	}
	return p.setFilter(fd, unix.EVFILT_WRITE, writable)
}

func (p *kqueuePoller) setFilter(fd FD, filter int16, on bool) error {
	flags := uint16(unix.EV_DELETE)
	if on {
		flags = unix.EV_ADD
	}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: filter, Flags: flags}}, nil, nil)
	if err == unix.ENOENT && !on {
		return nil
	}
	return err
}

func (p *kqueuePoller) Unregister(fd FD) error {
	if p.kq < 0 {
		return ErrClosed
	}
	rerr := p.setFilter(fd, unix.EVFILT_READ, false)
	werr := p.setFilter(fd, unix.EVFILT_WRITE, false)
	if rerr != nil {
		return rerr
	}
	return werr
}

func (p *kqueuePoller) Wait(events []Event, timeout time.Duration) (int, error) {
	if p.kq < 0 {
		return 0, ErrClosed
	}
	if len(events) == 0 {
		return 0, nil
	}
	if cap(p.buf) < len(events) {
		p.buf = make([]unix.Kevent_t, len(events))
	}
	raw := p.buf[:len(events)]
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	clear(p.idx)
	out := 0
	for i := 0; i < n; i++ {
		ev := raw[i]
		fd := int(ev.Ident)
		var e Events
		switch ev.Filter {
		case unix.EVFILT_READ:
			e |= EventRead
		case unix.EVFILT_WRITE:
			e |= EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			e |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			e |= EventError
		}
		if j, ok := p.idx[fd]; ok {
			events[j].Events |= e
			continue
		}
		p.idx[fd] = out
		events[out] = Event{FD: fd, Events: e}
		out++
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	if p.kq < 0 {
		return nil
	}
	kq := p.kq
	p.kq = -1
	return unix.Close(kq)
}

func (p *kqueuePoller) Handle() int { return p.kq }
