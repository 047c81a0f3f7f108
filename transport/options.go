package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultScheme = "nats"
	DefaultPort   = "4222"
)

type Options struct {
	// URL of the server to dial
	URL string

	// Timeout bounds the dial, it is also bounded by the context
	Timeout time.Duration

	// KeepAlive is the TCP keepalive period, zero uses the OS default
	KeepAlive time.Duration

	Log *zap.Logger
}
