package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/luma/courier/protocol"
	"github.com/luma/courier/subject"
)

const (
	writeQueueSize = 127

	errAuthorization = "Authorization Violation"
	errMaxPayload    = "Maximum Payload Violation"
	errUnknownOp     = "Unknown Protocol Operation"
	errBadSubject    = "Invalid Subject"
)

type clientConn struct {
	server *Server
	conn   net.Conn
	id     uint64

	writeQueue chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	mu        sync.Mutex
	opts      protocol.ConnectOptions
	connected bool

	inMsgs  int64
	outMsgs int64
	pongs   int64

	log *zap.Logger
}

func newClientConn(server *Server, conn net.Conn, id uint64) *clientConn {
	return &clientConn{
		server:     server,
		conn:       conn,
		id:         id,
		writeQueue: make(chan []byte, writeQueueSize),
		done:       make(chan struct{}),
		opts:       protocol.ConnectOptions{Echo: true},
		log: server.log.Named("conn").With(
			zap.Uint64("cid", id),
			zap.String("remote", conn.RemoteAddr().String())),
	}
}

// Start sends INFO and runs the read and write loops until the connection
// closes.
func (c *clientConn) Start(ctx context.Context) {
	var loopWaiter sync.WaitGroup

	info := c.server.Info()
	info.ClientID = c.id

	if err := protocol.WriteInfo(c, info); err != nil {
		c.log.Warn("Failed to write INFO", zap.Error(err))
		c.Close()
	}

	loopWaiter.Add(2)

	go func() {
		defer loopWaiter.Done()
		c.readLoop()
	}()

	go func() {
		defer loopWaiter.Done()
		c.writeLoop(ctx)
	}()

	loopWaiter.Wait()

	c.server.router.removeConn(c)
	c.server.countSubscriptions()
	c.server.removeConn(c)

	c.log.Debug("Connection closed")
}

// Close closes the socket immediately, anything still queued is discarded.
func (c *clientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Write queues data for the write loop. It never blocks once the connection
// is closed.
func (c *clientConn) Write(data []byte) (int, error) {
	select {
	case c.writeQueue <- data:
		return len(data), nil
	case <-c.done:
		return 0, io.ErrClosedPipe
	}
}

// fail sends -ERR and closes the connection once it has been written
func (c *clientConn) fail(msg string) {
	c.log.Info("Closing client connection", zap.String("reason", msg))

	protocol.WriteError(c, msg)
	c.Write(nil)
}

func (c *clientConn) ping() {
	protocol.WritePing(c)
}

func (c *clientConn) readLoop() {
	log := c.log.Named("readLoop")
	reader := protocol.NewReader(c.conn)
	reader.SetMaxPayload(c.server.opts.MaxPayload)

	defer log.Debug("Read loop exited")

	for {
		frame, err := reader.ReadClientFrame()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrPayloadTooLarge):
				c.fail(errMaxPayload)

			case errors.Is(err, protocol.ErrUnknownOp),
				errors.Is(err, protocol.ErrMalformedFrame),
				errors.Is(err, protocol.ErrControlLineTooLong),
				errors.Is(err, protocol.ErrBadPayloadTerminator):
				log.Warn("Failed to read client frame", zap.Error(err))
				c.fail(errUnknownOp)

			default:
				c.Close()
			}

			return
		}

		if c.server.trace {
			log.Debug("Frame", zap.String("op", string(frame.GetOp())))
		}

		if !c.handle(frame) {
			return
		}
	}
}

// handle processes a single frame, it returns false once the connection
// should stop reading.
func (c *clientConn) handle(frame protocol.Frame) bool {
	if f, ok := frame.(*protocol.ConnectFrame); ok {
		return c.handleConnect(f.Options)
	}

	if c.server.info.AuthRequired && !c.isConnected() {
		c.fail(errAuthorization)
		return false
	}

	switch f := frame.(type) {
	case *protocol.PingFrame:
		protocol.WritePong(c)
		return true

	case *protocol.PongFrame:
		atomic.AddInt64(&c.pongs, 1)
		c.server.varz.Add("in_pongs", 1)
		return true

	case *protocol.PubFrame:
		c.handlePub(f)

	case *protocol.SubFrame:
		if err := subject.ValidatePattern(f.Subject); err != nil {
			protocol.WriteError(c, errBadSubject)
			return true
		}

		c.server.router.add(&subscription{
			conn:    c,
			sid:     f.SID,
			subject: f.Subject,
			queue:   f.Queue,
		})
		c.server.countSubscriptions()

	case *protocol.UnsubFrame:
		if f.Max > 0 {
			c.server.router.setMax(c, f.SID, f.Max)
		} else {
			c.server.router.remove(c, f.SID)
		}
		c.server.countSubscriptions()

	default:
		c.fail(errUnknownOp)
		return false
	}

	c.ack()
	return true
}

func (c *clientConn) handleConnect(opts protocol.ConnectOptions) bool {
	if !c.server.authorize(opts) {
		c.fail(errAuthorization)
		return false
	}

	c.mu.Lock()
	c.opts = opts
	c.connected = true
	c.mu.Unlock()

	c.log.Debug("Client connected",
		zap.String("name", opts.Name),
		zap.String("lang", opts.Lang),
		zap.String("version", opts.Version))

	c.ack()
	return true
}

func (c *clientConn) handlePub(pub *protocol.PubFrame) {
	if err := subject.ValidatePublish(pub.Subject); err != nil {
		protocol.WriteError(c, errBadSubject)
		return
	}

	if c.server.denied(pub.Subject) {
		protocol.WriteError(c,
			fmt.Sprintf("Permissions Violation for Publish to \"%s\"", pub.Subject))
		return
	}

	atomic.AddInt64(&c.inMsgs, 1)
	c.server.varz.Add("in_msgs", 1)
	c.server.varz.Add("in_bytes", int64(len(pub.Payload)))

	deliveries := c.server.router.route(pub.Subject, c, c.echo())
	c.server.countSubscriptions()

	for _, d := range deliveries {
		if err := protocol.WriteMsg(d.conn, pub.Subject, d.sid, pub.Reply, pub.Payload); err != nil {
			continue
		}

		atomic.AddInt64(&d.conn.outMsgs, 1)
		c.server.varz.Add("out_msgs", 1)
		c.server.varz.Add("out_bytes", int64(len(pub.Payload)))
	}
}

func (c *clientConn) writeLoop(ctx context.Context) {
	log := c.log.Named("writeLoop")

	defer log.Debug("Write loop exited")

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return

		case <-c.done:
			return

		case data := <-c.writeQueue:
			if data == nil {
				// Queued by fail, everything before it has been written
				c.Close()
				return
			}

			if _, err := c.conn.Write(data); err != nil {
				log.Debug("Failed to write to client", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

// ack sends +OK when the client asked for verbose mode
func (c *clientConn) ack() {
	c.mu.Lock()
	verbose := c.opts.Verbose
	c.mu.Unlock()

	if verbose {
		protocol.WriteOk(c)
	}
}

func (c *clientConn) echo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.opts.Echo
}

func (c *clientConn) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *clientConn) describe(r *router) map[string]interface{} {
	c.mu.Lock()
	opts := c.opts
	c.mu.Unlock()

	return map[string]interface{}{
		"cid":           c.id,
		"ip":            c.conn.RemoteAddr().String(),
		"name":          opts.Name,
		"lang":          opts.Lang,
		"version":       opts.Version,
		"subscriptions": r.countFor(c),
		"in_msgs":       atomic.LoadInt64(&c.inMsgs),
		"out_msgs":      atomic.LoadInt64(&c.outMsgs),
		"pongs":         atomic.LoadInt64(&c.pongs),
	}
}

func (s *Server) authorize(opts protocol.ConnectOptions) bool {
	if s.opts.Token != "" {
		return opts.AuthToken == s.opts.Token
	}

	if s.opts.User != "" {
		return opts.User == s.opts.User && opts.Pass == s.opts.Password
	}

	return true
}

func (s *Server) denied(subj string) bool {
	for _, pattern := range s.opts.DenyPublish {
		if subject.Matches(pattern, subj) {
			return true
		}
	}

	return false
}
