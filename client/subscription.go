package client

import "time"

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	conn *Conn

	sid     uint64
	subject string
	queue   string
	handler MsgHandler

	// guarded by conn.mu
	max      int
	received int
}

// SubOption configures a subscription
type SubOption func(*Subscription)

// WithQueue joins the subscription to a queue group. The server delivers
// each message to only one member of a queue group.
func WithQueue(queue string) SubOption {
	return func(s *Subscription) {
		s.queue = queue
	}
}

// WithMax removes the subscription automatically after max messages have
// been delivered.
func WithMax(max int) SubOption {
	return func(s *Subscription) {
		if max > 0 {
			s.max = max
		}
	}
}

func (s *Subscription) SID() uint64 {
	return s.sid
}

func (s *Subscription) Subject() string {
	return s.subject
}

func (s *Subscription) Queue() string {
	return s.queue
}

// Received returns how many messages have been delivered so far
func (s *Subscription) Received() int {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	return s.received
}

// Max returns the delivery limit, or zero if there is none
func (s *Subscription) Max() int {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	return s.max
}

// IsValid returns true while the subscription is registered with its
// connection.
func (s *Subscription) IsValid() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	return s.conn.subs.get(s.sid) == s
}

// Unsubscribe removes the subscription. No further messages are delivered
// to it once Unsubscribe returns, even those the server has already sent.
// Unsubscribing twice, or after the connection was closed, does nothing.
func (s *Subscription) Unsubscribe() error {
	return s.conn.unsubscribe(s)
}

// AutoUnsubscribe removes the subscription once max messages have been
// delivered in total. If max messages have already been delivered the
// subscription is removed immediately.
func (s *Subscription) AutoUnsubscribe(max int) error {
	return s.conn.autoUnsubscribe(s, max)
}

// SetTimeout arms a timer that calls onFire if no message is delivered to
// the subscription within d. Every delivery disarms the timer. Arming a new
// timer replaces the previous one.
//
// onFire runs on its own goroutine. It does not remove the subscription,
// call Unsubscribe from onFire for that.
func (s *Subscription) SetTimeout(d time.Duration, onFire func()) error {
	return s.conn.setTimeout(s, d, onFire)
}

// CancelTimeout disarms the timer without firing it
func (s *Subscription) CancelTimeout() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	s.conn.timeouts.cancel(s.sid)
}

// HasTimeout reports whether a timer is currently armed
func (s *Subscription) HasTimeout() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	return s.conn.timeouts.has(s.sid)
}
