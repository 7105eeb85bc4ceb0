package reactor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 为 Reactor 的 prometheus 指标。nil *Metrics 的所有方法均为空操作。
type Metrics struct {
	FDEvents         prometheus.Counter
	TimersFired      prometheus.Counter
	CallbackFailures *prometheus.CounterVec // kind=fd|timer
	Registered       prometheus.Gauge
	PendingTimers    prometheus.Gauge
	WaitSeconds      prometheus.Histogram
}

// NewMetrics 创建指标并注册到 reg（reg 为 nil 时不注册）。
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FDEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "fd_events_total",
			Help: "Descriptor readiness events dispatched to callbacks.",
		}),
		TimersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "timers_fired_total",
			Help: "Timer callbacks fired.",
		}),
		CallbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "callback_failures_total",
			Help: "Callbacks that returned an error or panicked.",
		}, []string{"kind"}),
		Registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "registered_fds",
			Help: "Descriptors currently in the interest set.",
		}),
		PendingTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "pending_timers",
			Help: "Timers scheduled and not yet fired.",
		}),
		WaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "wait_seconds",
			Help:    "Time spent blocked in the kernel wait.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.FDEvents, m.TimersFired, m.CallbackFailures, m.Registered, m.PendingTimers, m.WaitSeconds,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) fdEvent() {
	if m != nil {
		m.FDEvents.Inc()
	}
}

func (m *Metrics) timerFired() {
	if m != nil {
		m.TimersFired.Inc()
	}
}

func (m *Metrics) callbackFailed(timer bool) {
	if m == nil {
		return
	}
	kind := "fd"
	if timer {
		kind = "timer"
	}
	m.CallbackFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) observe(registered, pending int) {
	if m != nil {
		m.Registered.Set(float64(registered))
		m.PendingTimers.Set(float64(pending))
	}
}

func (m *Metrics) waited(seconds float64) {
	if m != nil {
		m.WaitSeconds.Observe(seconds)
	}
}
