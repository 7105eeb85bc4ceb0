package reactor

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/rtpmidid/rtpio/poller"
)

type options struct {
	logger    *logiface.Logger[logiface.Event]
	metrics   *Metrics
	now       func() time.Time
	onError   func(error)
	maxEvents int
	poller    poller.Poller
}

// Option 配置 Reactor。
type Option func(*options)

// WithLogger 设置结构化日志；nil 表示不输出。
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock 替换定时器使用的时钟，默认 time.Now。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithErrorHandler 在每次回调失败（*CallbackError）后调用 fn。
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithMaxEvents 设置单次 Wait 最多取回的就绪事件数，默认 128。
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

// withPoller 注入内核上下文（测试用）
func withPoller(p poller.Poller) Option {
	return func(o *options) { o.poller = p }
}
