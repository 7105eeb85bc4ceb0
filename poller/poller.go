// Package poller 封装内核就绪通知上下文（Linux epoll / Darwin kqueue），水平触发。
package poller

import (
	"errors"
	"time"
)

// FD 表示文件描述符。
type FD = int

// Events 是就绪事件位图。
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	// EventHangup 对端关闭
	EventHangup
	EventError
)

// Event 为一次 Wait 返回的单个 fd 就绪信息。
// 同一 fd 在一次 Wait 中至多出现一次。
type Event struct {
	FD     FD
	Events Events
}

var (
	// ErrPlatformNotSupported 当前平台没有可用的就绪通知机制
	ErrPlatformNotSupported = errors.New("poller: platform not supported (requires epoll or kqueue)")

	// ErrClosed poller 已关闭
	ErrClosed = errors.New("poller: closed")
)

// Poller 是内核兴趣集合的直接映射。
// 所有方法须在同一 goroutine 中调用，不提供内部锁。
//
// 水平触发：未读尽的 fd 在下一次 Wait 时会再次被报告。
type Poller interface {
	// Register 将 fd 加入兴趣集合
	Register(fd FD, readable, writable bool) error
	// Mod 修改已注册 fd 的方向
	Mod(fd FD, readable, writable bool) error
	Unregister(fd FD) error
	// Wait 阻塞至有 fd 就绪或超时；timeout < 0 表示无限等待。
	// 被信号中断时返回 (0, nil)。
	Wait(events []Event, timeout time.Duration) (int, error)
	Close() error
	// Handle 返回内核句柄，关闭后为 -1
	Handle() int
}

// timeoutMillis 将超时换算为毫秒，向上取整，避免在到期前提前醒来空转。
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		ms = 1<<31 - 1
	}
	return int(ms)
}
