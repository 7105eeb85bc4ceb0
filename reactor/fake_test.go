package reactor

import (
	"syscall"
	"time"

	"github.com/rtpmidid/rtpio/poller"
)

// fakePoller 模拟内核兴趣集合；ready 在被清空前每次 Wait 都会返回（水平触发）。
type fakePoller struct {
	interest    map[int]poller.Events
	ready       []poller.Event
	regErr      error
	modErr      error
	delErr      error
	waitErr     error
	lastTimeout time.Duration
	waits       int
	closed      bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{interest: make(map[int]poller.Events)}
}

func fakeEvents(readable, writable bool) poller.Events {
	var e poller.Events
	if readable {
		e |= poller.EventRead
	}
	if writable {
		e |= poller.EventWrite
	}
	return e
}

func (p *fakePoller) Register(fd int, readable, writable bool) error {
	if p.regErr != nil {
		return p.regErr
	}
	if _, ok := p.interest[fd]; ok {
		return syscall.EEXIST
	}
	p.interest[fd] = fakeEvents(readable, writable)
	return nil
}

func (p *fakePoller) Mod(fd int, readable, writable bool) error {
	if p.modErr != nil {
		return p.modErr
	}
	if _, ok := p.interest[fd]; !ok {
		return syscall.ENOENT
	}
	p.interest[fd] = fakeEvents(readable, writable)
	return nil
}

func (p *fakePoller) Unregister(fd int) error {
	if p.delErr != nil {
		return p.delErr
	}
	if _, ok := p.interest[fd]; !ok {
		return syscall.ENOENT
	}
	delete(p.interest, fd)
	return nil
}

func (p *fakePoller) Wait(events []poller.Event, timeout time.Duration) (int, error) {
	p.waits++
	p.lastTimeout = timeout
	if p.waitErr != nil {
		return 0, p.waitErr
	}
	return copy(events, p.ready), nil
}

func (p *fakePoller) Close() error {
	p.closed = true
	return nil
}

func (p *fakePoller) Handle() int {
	if p.closed {
		return -1
	}
	return 3
}

// fakeClock 手动推进的时钟
type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
