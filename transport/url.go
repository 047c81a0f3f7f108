package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedScheme = errors.New("Unsupported URL scheme")
	ErrMissingHost       = errors.New("URL has no host")
)

// Endpoint is a parsed server URL
type Endpoint struct {
	// Addr is the host:port to dial
	Addr string

	User     string
	Password string

	// Token is set when the URL carries a single credential with no
	// password, e.g. nats://s3cr3t@127.0.0.1
	Token string
}

// ParseURL parses a server URL. The scheme defaults to nats, and the port
// to 4222. Bare host:port strings are accepted.
func ParseURL(raw string) (*Endpoint, error) {
	if !strings.Contains(raw, "://") {
		raw = DefaultScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse URL '%s': %w", raw, err)
	}

	switch u.Scheme {
	case DefaultScheme, "tcp":
	default:
		return nil, fmt.Errorf("Failed to parse URL '%s': %w", raw, ErrUnsupportedScheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("Failed to parse URL '%s': %w", raw, ErrMissingHost)
	}

	port := u.Port()
	if port == "" {
		port = DefaultPort
	}

	ep := &Endpoint{Addr: net.JoinHostPort(host, port)}

	if u.User != nil {
		if pass, ok := u.User.Password(); ok {
			ep.User = u.User.Username()
			ep.Password = pass
		} else {
			ep.Token = u.User.Username()
		}
	}

	return ep, nil
}
