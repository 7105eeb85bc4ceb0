// Package reactor 实现单线程事件反应器：在一次阻塞等待中复用 fd 就绪事件与定时器回调。
//
// Reactor 不是全局单例，由进程主流程显式构造并传给需要注册的协作方。
// 所有方法须在同一 goroutine 中调用；回调在调用 Wait 的 goroutine 上依次执行。
package reactor

import (
	"errors"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/rtpmidid/rtpio/poller"
)

// Interest 为注册方向
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	ReadWrite = Readable | Writable
)

func (i Interest) String() string {
	switch i {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case ReadWrite:
		return "readwrite"
	}
	return "none"
}

// Handler 在 fd 就绪时被调用。
//
// 水平触发：若回调没有读尽（或写满）就绪数据，下一次 Wait 会再次调用它。
// 回调应当读到 EAGAIN，或通过重新注册收窄兴趣方向。
// 对端关闭/出错同样以就绪形式交付，由回调在读写时发现。
type Handler interface {
	OnReady(fd int) error
}

type HandlerFunc func(fd int) error

func (f HandlerFunc) OnReady(fd int) error { return f(fd) }

// Timer 为一次性定时回调，可在回调中重新调度自身。
type Timer interface {
	OnTimer() error
}

type TimerFunc func() error

func (f TimerFunc) OnTimer() error { return f() }

// ErrInvalidArgument 参数非法
var ErrInvalidArgument = errors.New("reactor: invalid argument")

type registration struct {
	h        Handler
	interest Interest
}

type Reactor struct {
	pl      poller.Poller
	fds     map[int]*registration
	timers  *timerQueue
	events  []poller.Event
	due     []*timerEntry
	now     func() time.Time
	logger  *logiface.Logger[logiface.Event]
	metrics *Metrics
	onError func(error)
	waiting bool
	closed  bool
}

// New 创建 Reactor 及其内核上下文。创建失败返回包装了 ErrFatal 的错误。
func New(opts ...Option) (*Reactor, error) {
	o := options{now: time.Now, maxEvents: 128}
	for _, opt := range opts {
		opt(&o)
	}
	pl := o.poller
	if pl == nil {
		var err error
		if pl, err = poller.New(); err != nil {
			return nil, fatal("create", -1, err)
		}
	}
	r := &Reactor{
		pl:      pl,
		fds:     make(map[int]*registration),
		timers:  newTimerQueue(o.now()),
		events:  make([]poller.Event, o.maxEvents),
		now:     o.now,
		logger:  o.logger,
		metrics: o.metrics,
		onError: o.onError,
	}
	r.logger.Debug().Int("handle", pl.Handle()).Log("reactor: open")
	return r, nil
}

func (r *Reactor) RegisterReadable(fd int, h Handler) error  { return r.Register(fd, Readable, h) }
func (r *Reactor) RegisterWritable(fd int, h Handler) error  { return r.Register(fd, Writable, h) }
func (r *Reactor) RegisterReadWrite(fd int, h Handler) error { return r.Register(fd, ReadWrite, h) }

// Register 安装或替换 fd 的回调与兴趣方向。
// 先更新内核兴趣集合，成功后才修改回调表，两者始终一致。
func (r *Reactor) Register(fd int, in Interest, h Handler) error {
	if r.closed {
		return ErrClosed
	}
	if fd < 0 || h == nil || in&ReadWrite == 0 || in&^ReadWrite != 0 {
		return ErrInvalidArgument
	}
	rd, wr := in&Readable != 0, in&Writable != 0
	reg, known := r.fds[fd]
	var err error
	if known {
		err = r.pl.Mod(fd, rd, wr)
		if errors.Is(err, syscall.ENOENT) {
			// fd 被外部关闭后内核已自动移除，号码又被复用
			err = r.pl.Register(fd, rd, wr)
		}
	} else {
		err = r.pl.Register(fd, rd, wr)
		if errors.Is(err, syscall.EEXIST) {
			err = r.pl.Mod(fd, rd, wr)
		}
	}
	if err != nil {
		r.logger.Err().Err(err).Int("fd", fd).Str("interest", in.String()).Log("reactor: register failed")
		return fatal("register", fd, err)
	}
	if !known {
		reg = &registration{}
		r.fds[fd] = reg
	}
	reg.h = h
	reg.interest = in
	r.metrics.observe(len(r.fds), r.timers.Len())
	r.logger.Debug().Int("fd", fd).Str("interest", in.String()).Log("reactor: register")
	return nil
}

// Unregister 从回调表与内核兴趣集合中移除 fd。
// fd 已被外部关闭（ENOENT/EBADF）时仍视为成功。
func (r *Reactor) Unregister(fd int) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.fds[fd]; !ok {
		return ErrNotRegistered
	}
	err := r.pl.Unregister(fd)
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.EBADF) {
		err = nil
	}
	if err != nil {
		r.logger.Err().Err(err).Int("fd", fd).Log("reactor: unregister failed")
		return fatal("unregister", fd, err)
	}
	delete(r.fds, fd)
	r.metrics.observe(len(r.fds), r.timers.Len())
	r.logger.Debug().Int("fd", fd).Log("reactor: unregister")
	return nil
}

// ScheduleAfter 在 d 之后触发 t。d <= 0 时在下一次 Wait 触发，绝不同步执行。
func (r *Reactor) ScheduleAfter(d time.Duration, t Timer) error {
	if r.closed {
		return ErrClosed
	}
	if t == nil {
		return ErrInvalidArgument
	}
	if d < 0 {
		d = 0
	}
	r.timers.push(r.now().Add(d), t)
	r.metrics.observe(len(r.fds), r.timers.Len())
	return nil
}

// Registered 返回已注册的 fd 数量
func (r *Reactor) Registered() int { return len(r.fds) }

// PendingTimers 返回尚未触发的定时器数量
func (r *Reactor) PendingTimers() int { return r.timers.Len() }

// InterestOf 返回 fd 当前的关注方向；未注册时 ok 为 false。
func (r *Reactor) InterestOf(fd int) (in Interest, ok bool) {
	reg, ok := r.fds[fd]
	if !ok {
		return 0, false
	}
	return reg.interest, true
}

// Now 返回 Reactor 使用的时钟的当前时间（见 WithClock）。
func (r *Reactor) Now() time.Time { return r.now() }

// IsOpen 报告内核上下文句柄是否仍然有效。
func (r *Reactor) IsOpen() bool {
	return !r.closed && r.pl.Handle() >= 0
}

// Close 释放内核上下文，丢弃所有注册与定时器。重复调用安全。
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	clear(r.fds)
	r.timers = newTimerQueue(r.now())
	r.metrics.observe(0, 0)
	r.logger.Debug().Log("reactor: close")
	return r.pl.Close()
}
