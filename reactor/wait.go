package reactor

import (
	"context"
	"errors"
	"time"
)

// Wait 阻塞直到有 fd 就绪或最早的定时器到期，然后：
//  1. 依次分发本次报告的所有 fd 事件；
//  2. 按触发时间升序（同时间按插入顺序）触发所有已到期的定时器。
//
// 单个回调失败（返回错误或 panic）被记录后继续分发其余事件。
// 没有任何 fd 与定时器时返回 ErrIdle，而不是永久阻塞。
func (r *Reactor) Wait() error {
	if r.closed {
		return ErrClosed
	}
	if r.waiting {
		return ErrReentrant
	}
	if len(r.fds) == 0 && r.timers.Len() == 0 {
		return ErrIdle
	}
	r.waiting = true
	defer func() { r.waiting = false }()

	timeout := time.Duration(-1)
	if at, ok := r.timers.next(); ok {
		timeout = max(at.Sub(r.now()), 0)
	}

	start := time.Now()
	n, err := r.pl.Wait(r.events, timeout)
	r.metrics.waited(time.Since(start).Seconds())
	if err != nil {
		r.logger.Crit().Err(err).Log("reactor: kernel wait failed")
		return fatal("wait", -1, err)
	}

	for i := 0; i < n && !r.closed; i++ {
		fd := r.events[i].FD
		// 同批次中前面的回调可能已注销该 fd
		reg, ok := r.fds[fd]
		if !ok {
			continue
		}
		r.metrics.fdEvent()
		r.dispatchFD(fd, reg.h)
	}
	if r.closed {
		return nil
	}

	// 先取出快照：本次回调中新调度的定时器（包括 0 延迟）留到下一次 Wait
	due := r.timers.popDue(r.now(), r.due[:0])
	for i, e := range due {
		if !r.closed {
			r.metrics.timerFired()
			r.dispatchTimer(e.t)
		}
		due[i] = nil
	}
	r.due = due[:0]
	r.metrics.observe(len(r.fds), r.timers.Len())
	return nil
}

func (r *Reactor) dispatchFD(fd int, h Handler) {
	defer func() {
		if v := recover(); v != nil {
			r.fail(&CallbackError{FD: fd, Err: panicErr(v), Panic: v})
		}
	}()
	if err := h.OnReady(fd); err != nil {
		r.fail(&CallbackError{FD: fd, Err: err})
	}
}

func (r *Reactor) dispatchTimer(t Timer) {
	defer func() {
		if v := recover(); v != nil {
			r.fail(&CallbackError{FD: -1, Timer: true, Err: panicErr(v), Panic: v})
		}
	}()
	if err := t.OnTimer(); err != nil {
		r.fail(&CallbackError{FD: -1, Timer: true, Err: err})
	}
}

func (r *Reactor) fail(e *CallbackError) {
	r.metrics.callbackFailed(e.Timer)
	r.logger.Err().
		Err(e).
		Int("fd", e.FD).
		Bool("timer", e.Timer).
		Log("reactor: callback failed")
	if r.onError != nil {
		r.onError(e)
	}
}

func panicErr(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}

// Run 循环调用 Wait，直到 ctx 结束、Reactor 被关闭或没有可等待的对象。
// ctx 只在两次 Wait 之间检查；阻塞中的 Wait 最长持续到最早的定时器到期。
func (r *Reactor) Run(ctx context.Context) error {
	for ctx.Err() == nil && r.IsOpen() {
		if err := r.Wait(); err != nil {
			if errors.Is(err, ErrIdle) || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
	}
	return nil
}
