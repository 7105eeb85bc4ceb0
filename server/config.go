package server

import (
	"time"

	"github.com/joeycumines/logiface"
)

type Config struct {
	ListenNetwork string
	ListenAddress string
	ReusePort     bool

	RxRingSize int
	MaxPayload int
	Compress   bool

	// IdleTimeout 为 0 时不做空闲检测
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	Logger *logiface.Logger[logiface.Event]
}

func DefaultConfig() Config {
	return Config{
		ListenNetwork: "tcp",
		ListenAddress: ":5004",
		RxRingSize:    64 << 10,
		MaxPayload:    1 << 20,
		IdleTimeout:   time.Minute,
		SweepInterval: time.Second,
	}
}
