package client

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/courier/internal/meta"
	"github.com/luma/courier/payload"
	"github.com/luma/courier/protocol"
	"github.com/luma/courier/subject"
	"github.com/luma/courier/transport"
)

type State int

const (
	Connecting State = iota
	Connected
	Reconnecting
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stats counts the traffic on a connection
type Stats struct {
	InMsgs   uint64
	OutMsgs  uint64
	InBytes  uint64
	OutBytes uint64
}

// Conn is a client connection to a server.
//
// Conn is safe for concurrent use. Message handlers are run one at a time on
// the connection's read loop.
type Conn struct {
	opts  Options
	codec payload.Codec
	log   *zap.Logger

	conn      io.ReadWriteCloser
	reader    *protocol.Reader
	closeOnce sync.Once
	closeErr  error

	// mu guards everything below it
	mu         sync.Mutex
	state      State
	info       protocol.ServerInfo
	maxPayload int
	out        *outbound
	subs       *registry
	timeouts   *timeouts
	flushes    flushQueue
	mux        *mux
	stats      Stats
	pingsOut   int
	pinger     *time.Timer
	lastErr    error
	writeErr   error

	stopWriter chan struct{}
	writerDone chan struct{}
	closed     chan struct{}
}

// Connect dials the server named by opts.URL and performs the connect
// handshake.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	nc, ep, err := transport.Dial(ctx, transport.Options{
		URL:     opts.URL,
		Timeout: opts.Timeout,
		Log:     opts.Log.Named("transport"),
	})
	if err != nil {
		return nil, err
	}

	if opts.User == "" && opts.Token == "" {
		opts.User, opts.Password, opts.Token = ep.User, ep.Password, ep.Token
	}

	return NewConn(ctx, nc, opts)
}

// NewConn performs the connect handshake over an already established byte
// stream and starts the connection's read and write loops. The stream is
// closed if the handshake fails.
func NewConn(ctx context.Context, rwc io.ReadWriteCloser, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	codec, err := payload.For(opts.Payload)
	if err != nil {
		rwc.Close()
		return nil, err
	}

	c := &Conn{
		opts:       opts,
		codec:      codec,
		log:        opts.Log.Named("conn"),
		conn:       rwc,
		reader:     protocol.NewReader(rwc),
		state:      Connecting,
		out:        newOutbound(),
		mux:        newMux(),
		stopWriter: make(chan struct{}),
		writerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	c.timeouts = newTimeouts(&c.mu)
	c.subs = newRegistry(c.out, c.timeouts)

	if err := c.handshake(ctx); err != nil {
		c.closeSocket()
		return nil, err
	}

	c.log.Info("Connected",
		zap.String("serverID", c.info.ServerID),
		zap.String("version", c.info.Version),
		zap.Int("maxPayload", c.maxPayload))

	c.mu.Lock()
	c.state = Connected
	if opts.PingInterval > 0 {
		c.pinger = time.AfterFunc(opts.PingInterval, c.sendKeepAlive)
	}
	c.mu.Unlock()

	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

// handshake reads the server's INFO, sends CONNECT followed by a PING, and
// waits for the PONG that confirms the server accepted us.
func (c *Conn) handshake(ctx context.Context) error {
	if dc, ok := c.conn.(interface{ SetDeadline(time.Time) error }); ok {
		deadline := time.Now().Add(c.opts.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		if err := dc.SetDeadline(deadline); err != nil {
			return err
		}
		defer dc.SetDeadline(time.Time{})
	}

	frame, err := c.reader.ReadServerFrame()
	if err != nil {
		return fmt.Errorf("Failed to read INFO: %w", err)
	}

	info, ok := frame.(*protocol.InfoFrame)
	if !ok {
		return fmt.Errorf("Expected INFO, got %s: %w", frame.GetOp(), ErrHandshake)
	}
	c.setServerInfo(info.Info)

	if err := protocol.WriteConnect(c.conn, c.connectOptions()); err != nil {
		return err
	}

	if err := protocol.WritePing(c.conn); err != nil {
		return err
	}

	for {
		frame, err := c.reader.ReadServerFrame()
		if err != nil {
			return fmt.Errorf("Failed to complete handshake: %w", err)
		}

		switch f := frame.(type) {
		case *protocol.PongFrame:
			return nil

		case *protocol.OkFrame:
			// verbose mode acknowledges CONNECT

		case *protocol.PingFrame:
			if err := protocol.WritePong(c.conn); err != nil {
				return err
			}

		case *protocol.InfoFrame:
			c.setServerInfo(f.Info)

		case *protocol.ErrFrame:
			return &ProtocolError{Message: f.Message}

		default:
			return fmt.Errorf("Unexpected %s during handshake: %w", frame.GetOp(), ErrHandshake)
		}
	}
}

func (c *Conn) connectOptions() protocol.ConnectOptions {
	return protocol.ConnectOptions{
		Verbose:   c.opts.Verbose,
		Pedantic:  c.opts.Pedantic,
		Echo:      !c.opts.NoEcho,
		Name:      c.opts.Name,
		Lang:      LangString,
		Version:   meta.GetInfo().ClientVersion(),
		Protocol:  1,
		User:      c.opts.User,
		Pass:      c.opts.Password,
		AuthToken: c.opts.Token,
	}
}

// setServerInfo records a new INFO. It's safe to call without the lock only
// during the handshake. Like the reader, it belongs to whoever is reading
// frames.
func (c *Conn) setServerInfo(info protocol.ServerInfo) {
	c.info = info

	c.maxPayload = info.MaxPayload
	if c.opts.MaxPayload > 0 {
		c.maxPayload = c.opts.MaxPayload
	}

	inbound := info.MaxPayload
	if c.maxPayload > inbound {
		inbound = c.maxPayload
	}
	c.reader.SetMaxPayload(inbound)
}

// Publish sends data to subject. It returns as soon as the message is
// buffered, use Flush to wait until the server has processed it.
func (c *Conn) Publish(subj string, data interface{}) error {
	return c.PublishRequest(subj, "", data)
}

// PublishRequest sends data to subject, asking receivers to reply to reply.
func (c *Conn) PublishRequest(subj, reply string, data interface{}) error {
	if err := subject.ValidatePublish(subj); err != nil {
		return err
	}

	if reply != "" {
		if err := subject.ValidatePublish(reply); err != nil {
			return err
		}
	}

	body, err := c.codec.Encode(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.publishLocked(subj, reply, body)
}

func (c *Conn) publishLocked(subj, reply string, body []byte) error {
	if c.state != Connected {
		return ErrNotConnected
	}

	if len(body) > c.maxPayload {
		return fmt.Errorf("Payload of %d bytes (max %d): %w", len(body), c.maxPayload, ErrMaxPayload)
	}

	if err := protocol.WritePub(c.out, subj, reply, body); err != nil {
		return err
	}

	c.stats.OutMsgs++
	c.stats.OutBytes += uint64(len(body))

	return nil
}

// Subscribe registers handler for messages published to subj, which may
// contain wildcards.
func (c *Conn) Subscribe(subj string, handler MsgHandler, opts ...SubOption) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	if err := subject.ValidatePattern(subj); err != nil {
		return nil, err
	}

	sub := &Subscription{
		conn:    c,
		subject: subj,
		handler: handler,
	}

	for _, opt := range opts {
		opt(sub)
	}

	if err := subject.ValidateQueueGroup(sub.queue); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.subscribeLocked(sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// ChanSubscribe delivers messages published to subj on ch. Messages whose
// payload cannot be decoded are dropped. Delivery blocks the read loop while
// ch is full.
func (c *Conn) ChanSubscribe(subj string, ch chan<- *Msg, opts ...SubOption) (*Subscription, error) {
	return c.Subscribe(subj, func(msg *Msg, err error) {
		if err != nil {
			c.log.Debug("Dropping message that could not be decoded",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}

		ch <- msg
	}, opts...)
}

func (c *Conn) subscribeLocked(sub *Subscription) error {
	if c.state != Connected {
		return ErrNotConnected
	}

	return c.subs.add(sub)
}

// Unsubscribe removes sub, see Subscription.Unsubscribe
func (c *Conn) Unsubscribe(sub *Subscription) error {
	return sub.Unsubscribe()
}

func (c *Conn) unsubscribe(sub *Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		// Everything was unsubscribed when the connection closed
		return nil
	}

	c.subs.remove(sub.sid)
	return nil
}

func (c *Conn) autoUnsubscribe(sub *Subscription, max int) error {
	if max <= 0 {
		return sub.Unsubscribe()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrNotConnected
	}

	if c.subs.get(sub.sid) != sub {
		return ErrBadSubscription
	}

	if sub.received >= max {
		c.subs.remove(sub.sid)
		return nil
	}

	sub.max = max
	return protocol.WriteUnsub(c.out, sub.sid, max)
}

func (c *Conn) setTimeout(sub *Subscription, d time.Duration, onFire func()) error {
	if d < 0 {
		return ErrInvalidTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrNotConnected
	}

	if c.subs.get(sub.sid) != sub {
		return ErrBadSubscription
	}

	c.timeouts.set(sub.sid, d, onFire)
	return nil
}

// NumSubscriptions returns the number of active subscriptions, not counting
// the inbox subscription shared by requests.
func (c *Conn) NumSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.subs.len()
	if c.mux.sub != nil && c.subs.get(c.mux.sub.sid) == c.mux.sub {
		n--
	}

	return n
}

// Close writes any buffered frames, closes the connection and fails every
// pending request and flush with ErrConnectionClosed. Closing a closed
// connection does nothing.
func (c *Conn) Close() error {
	return c.close(nil)
}

func (c *Conn) close(cause error) error {
	c.mu.Lock()

	if c.state == Closing || c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	c.state = Closing
	c.lastErr = cause
	if c.pinger != nil {
		c.pinger.Stop()
	}

	c.mu.Unlock()

	// Push out everything that was framed before we were closed
	if dc, ok := c.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = dc.SetWriteDeadline(time.Now().Add(c.opts.DrainTimeout))
	}
	close(c.stopWriter)
	<-c.writerDone

	sockErr := c.closeSocket()

	c.mu.Lock()
	requests := c.mux.drain()
	flushes := c.flushes.drain()
	c.subs.clear()
	c.timeouts.stopAll()
	writeErr := c.writeErr
	c.state = Closed
	c.mu.Unlock()

	for _, pr := range requests {
		pr.done <- reply{err: ErrConnectionClosed}
	}

	for _, done := range flushes {
		done(ErrConnectionClosed)
	}

	close(c.closed)

	if cause != nil {
		c.log.Info("Connection closed", zap.Error(cause))
	} else {
		c.log.Info("Connection closed")
	}

	return multierr.Append(writeErr, sockErr)
}

// closeSocket closes the underlying stream exactly once
func (c *Conn) closeSocket() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}

// State returns the connection's current state
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Closed is closed once the connection has been closed, either by Close or
// because of an error.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// LastError returns the error that caused the connection to close, if it
// was closed because of one.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// ServerInfo returns the most recent INFO received from the server
func (c *Conn) ServerInfo() protocol.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.info
}

// MaxPayload returns the largest payload that can be published
func (c *Conn) MaxPayload() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.maxPayload
}

func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}
