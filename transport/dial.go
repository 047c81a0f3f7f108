package transport

import (
	"context"
	"net"

	"go.uber.org/zap"
)

// Dial opens a TCP connection to the server named by options.URL. The
// returned connection is a plain ordered byte stream, the protocol handshake
// is left to the caller.
func Dial(ctx context.Context, options Options) (net.Conn, *Endpoint, error) {
	ep, err := ParseURL(options.URL)
	if err != nil {
		return nil, nil, err
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	dialer := net.Dialer{KeepAlive: options.KeepAlive}

	conn, err := dialer.DialContext(ctx, "tcp", ep.Addr)
	if err != nil {
		log.Debug("Failed to dial", zap.String("addr", ep.Addr), zap.Error(err))
		return nil, nil, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		// Frames are already batched by the write loop
		if err := tcp.SetNoDelay(true); err != nil {
			log.Warn("Failed to set TCP_NODELAY", zap.Error(err))
		}
	}

	log.Debug("Dialed", zap.String("addr", ep.Addr))

	return conn, ep, nil
}
