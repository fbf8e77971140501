package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultKeepAlive      = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

type Options struct {
	// Brokers to connect to, e.g. tcp://localhost:1883. paho tries them in
	// order.
	Brokers []string

	// ClientID must be unique per broker
	ClientID string

	Username string
	Password string

	KeepAlive time.Duration

	// ConnectTimeout bounds Connect when the context has no deadline
	ConnectTimeout time.Duration

	// WriteTimeout bounds Publish and Subscribe when the context has no
	// deadline
	WriteTimeout time.Duration

	CleanSession bool

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
