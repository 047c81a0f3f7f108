package client

import (
	"errors"
	"strings"
)

var (
	ErrNotConnected     = errors.New("Connection is not connected")
	ErrConnectionClosed = errors.New("Connection closed")
	ErrConnectionLost   = errors.New("Connection to the server was lost")
	ErrTimeout          = errors.New("Timed out")
	ErrInvalidTimeout   = errors.New("Timeout must be greater than zero")
	ErrMaxPayload       = errors.New("Payload exceeds the maximum payload size")
	ErrStaleConnection  = errors.New("Stale connection, too many PINGs went unanswered")
	ErrBadSubscription  = errors.New("Subscription is no longer valid")
	ErrNilHandler       = errors.New("Message handler is nil")
	ErrNoReply          = errors.New("Message has no reply subject")
	ErrHandshake        = errors.New("Server did not complete the connect handshake")
)

// ProtocolError is an error reported by the server with -ERR.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "Server error: " + e.Message
}

// recoverablePrefixes are the -ERR descriptions after which the server keeps
// the connection open.
var recoverablePrefixes = []string{
	"permissions violation",
}

// Fatal reports whether the server closes the connection after sending this
// error.
func (e *ProtocolError) Fatal() bool {
	msg := strings.ToLower(e.Message)

	for _, prefix := range recoverablePrefixes {
		if strings.HasPrefix(msg, prefix) {
			return false
		}
	}

	return true
}
