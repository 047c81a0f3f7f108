package broker

import (
	"time"

	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, zero picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT, it is required for more than
	// one listener.
	Reuseport bool

	NumListeners int

	// ServerName is reported to clients in INFO
	ServerName string

	// MaxPayload is advertised to clients and enforced on PUB
	MaxPayload int

	// Credentials clients must present in CONNECT. Empty means no
	// authentication is required.
	User     string
	Password string
	Token    string

	// DenyPublish lists subject patterns clients are not permitted to
	// publish to. Violations are reported with a non fatal -ERR.
	DenyPublish []string

	// PingInterval is how often the server PINGs each client, zero disables
	// server initiated PINGs.
	PingInterval time.Duration

	// Trace will log every frame. This is only useful in local debugging
	Trace bool

	Log *zap.Logger
}
