package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/tidwall/sjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/courier/internal/meta"
	"github.com/luma/courier/protocol"
)

var (
	ErrAlreadyStarted = errors.New("Server has already been started")
	ErrNotStarted     = errors.New("Server has not been started")
)

// Server is a small in-process message broker. It speaks the same protocol
// as the client package and is used for local development and tests.
type Server struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	opts         Options
	addr         string
	numListeners int
	listeners    []*listener

	info protocol.ServerInfo

	router  *router
	varz    *Varz
	gaugeMu sync.Mutex

	mu           sync.Mutex
	conns        map[*clientConn]struct{}
	nextClientID uint64
	started      bool

	log   *zap.Logger
	trace bool
}

func New(options Options) *Server {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	if !options.Reuseport {
		numListeners = 1
	}

	if options.MaxPayload <= 0 {
		options.MaxPayload = protocol.DefaultMaxPayload
	}

	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	s := &Server{
		opts:         options,
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*listener, 0, numListeners),
		info: protocol.ServerInfo{
			ServerID:     uuid.New().String(),
			ServerName:   options.ServerName,
			Version:      meta.GetInfo().ClientVersion(),
			Host:         options.Host,
			Port:         options.Port,
			Proto:        1,
			MaxPayload:   options.MaxPayload,
			AuthRequired: options.User != "" || options.Token != "",
		},
		router: newRouter(),
		varz:   NewVarz(),
		conns:  make(map[*clientConn]struct{}),
		log:    options.Log,
		trace:  options.Trace,
	}

	s.varz.Set("server_id", s.info.ServerID)
	s.varz.Set("version", s.info.Version)

	return s
}

// Start binds every listener before returning, once it returns Addr reports
// the bound address.
func (s *Server) Start(parentCtx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel

	s.log.Info("Starting tcp listeners", zap.Int("count", s.numListeners))

	addr := s.addr

	for i := 0; i < s.numListeners; i++ {
		l, err := s.listen(addr, i)
		if err != nil {
			cancel()
			for _, started := range s.listeners {
				err = multierr.Append(err, started.Close())
			}
			s.listeners = s.listeners[:0]
			return fmt.Errorf("Failed to listen on %s: %w", addr, err)
		}

		// Later listeners have to share the port picked by the first
		addr = l.Addr().String()
		s.listeners = append(s.listeners, l)
	}

	s.info.Port = s.listeners[0].Addr().(*net.TCPAddr).Port
	s.varz.Set("port", s.info.Port)
	s.varz.Set("start", time.Now().UTC().Format(time.RFC3339))
	s.started = true

	for _, l := range s.listeners {
		s.stopWaiter.Add(1)

		go func(l *listener) {
			defer s.stopWaiter.Done()

			if err := l.acceptLoop(ctx); err != nil {
				s.log.Error("Failed to accept", zap.Error(err))
			}
		}(l)
	}

	if s.opts.PingInterval > 0 {
		s.stopWaiter.Add(1)

		go func() {
			defer s.stopWaiter.Done()
			s.pingLoop(ctx)
		}()
	}

	return nil
}

func (s *Server) listen(addr string, index int) (*listener, error) {
	var (
		ln  net.Listener
		err error
	)

	if s.opts.Reuseport {
		ln, err = reuseport.Listen("tcp", addr)
	} else {
		ln, err = net.Listen("tcp", addr)
	}

	if err != nil {
		return nil, err
	}

	return &listener{
		Listener: ln,
		server:   s,
		log:      s.log.Named("listener").With(zap.Int("listener", index)),
	}, nil
}

// Addr is the address the first listener is bound to
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.listeners) == 0 {
		return s.addr
	}

	return s.listeners[0].Addr().String()
}

// URL is a client URL for this server
func (s *Server) URL() string {
	return "nats://" + s.Addr()
}

func (s *Server) Info() protocol.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info
}

func (s *Server) Varz() *Varz {
	return s.varz
}

func (s *Server) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

func (s *Server) NumSubscriptions() int {
	return s.router.len()
}

// Connz describes every connected client as a JSON document
func (s *Server) Connz() ([]byte, error) {
	conns := s.snapshotConns()

	doc := []byte(`{"connections":[]}`)

	var err error
	doc, err = sjson.SetBytes(doc, "num_connections", len(conns))
	if err != nil {
		return nil, err
	}

	for _, c := range conns {
		doc, err = sjson.SetBytes(doc, "connections.-1", c.describe(s.router))
		if err != nil {
			return nil, err
		}
	}

	return doc, nil
}

// Close immediately closes all listeners and client connections.
func (s *Server) Close() (err error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false

	listeners := s.listeners
	s.listeners = nil

	conns := make([]*clientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.log.Info("Stopping TCP server")
	s.cancel()

	for _, l := range listeners {
		if lerr := l.Close(); lerr != nil && !isClosedErr(lerr) {
			err = multierr.Append(err, lerr)
		}
	}

	for _, c := range conns {
		c.Close()
	}

	s.stopWaiter.Wait()
	s.log.Info("TCP server stopped")

	return err
}

// countSubscriptions refreshes the subscriptions gauge in varz
func (s *Server) countSubscriptions() {
	s.gaugeMu.Lock()
	defer s.gaugeMu.Unlock()

	s.varz.Set("subscriptions", s.router.len())
}

func (s *Server) snapshotConns() []*clientConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*clientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}

	return conns
}

func (s *Server) addConn(netConn net.Conn) *clientConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextClientID++

	c := newClientConn(s, netConn, s.nextClientID)
	s.conns[c] = struct{}{}

	s.varz.Add("connections", 1)
	s.varz.Add("total_connections", 1)

	return c
}

func (s *Server) removeConn(c *clientConn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()

	if ok {
		s.varz.Add("connections", -1)
	}
}

func (s *Server) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			for _, c := range s.snapshotConns() {
				c.ping()
			}
		}
	}
}

type listener struct {
	net.Listener

	server *Server
	log    *zap.Logger
}

func (l *listener) acceptLoop(ctx context.Context) error {
	var loopWaiter sync.WaitGroup
	defer loopWaiter.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.log.Info("Stopped accepting new connections")
				return nil
			default:
			}

			if isClosedErr(err) {
				return nil
			}

			return err
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		c := l.server.addConn(conn)

		loopWaiter.Add(1)
		go func() {
			defer loopWaiter.Done()
			c.Start(ctx)
		}()
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
