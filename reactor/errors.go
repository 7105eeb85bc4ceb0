package reactor

import (
	"errors"
	"fmt"
)

var (
	// ErrFatal 内核上下文创建/更新/等待失败；Reactor 不做自动重试
	ErrFatal = errors.New("reactor: fatal kernel error")

	ErrClosed        = errors.New("reactor: closed")
	ErrNotRegistered = errors.New("reactor: fd not registered")

	// ErrIdle 既没有注册的 fd 也没有待触发的定时器，Wait 将永远阻塞
	ErrIdle = errors.New("reactor: nothing to wait for")

	// ErrReentrant 在回调中再次调用 Wait
	ErrReentrant = errors.New("reactor: wait called from a callback")
)

func fatal(op string, fd int, err error) error {
	if fd < 0 {
		return fmt.Errorf("%w: %s: %w", ErrFatal, op, err)
	}
	return fmt.Errorf("%w: %s fd=%d: %w", ErrFatal, op, fd, err)
}

// CallbackError 表示一次回调失败（返回错误或 panic），在分发边界被捕获。
type CallbackError struct {
	FD    int  // 定时器回调时为 -1
	Timer bool // 是否为定时器回调
	Err   error
	Panic any // 回调 panic 时的原始值
}

func (e *CallbackError) Error() string {
	src := fmt.Sprintf("fd=%d", e.FD)
	if e.Timer {
		src = "timer"
	}
	if e.Panic != nil {
		return fmt.Sprintf("reactor: %s callback panic: %v", src, e.Panic)
	}
	return fmt.Sprintf("reactor: %s callback: %v", src, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
