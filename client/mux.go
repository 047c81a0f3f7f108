package client

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/luma/courier/subject"
)

type reply struct {
	msg *Msg
	err error
}

type pendingRequest struct {
	// buffered so that whoever resolves the request never blocks
	done chan reply
}

// mux correlates replies to in-flight requests. Every request shares a
// single wildcard subscription on the connection's inbox prefix, the last
// token of the reply subject identifies the request. All methods must be
// called with the connection's lock held.
type mux struct {
	prefix  string
	sub     *Subscription
	next    uint64
	pending map[string]*pendingRequest
}

func newMux() *mux {
	return &mux{
		prefix:  subject.NewInbox(),
		pending: make(map[string]*pendingRequest),
	}
}

// pattern is the subject of the shared inbox subscription
func (m *mux) pattern() string {
	return m.prefix + subject.Separator + subject.SingleWildcard
}

func (m *mux) replySubject(token string) string {
	return m.prefix + subject.Separator + token
}

// register creates a pending request under a fresh token
func (m *mux) register() (string, *pendingRequest) {
	m.next++
	token := strconv.FormatUint(m.next, 36)

	pr := &pendingRequest{done: make(chan reply, 1)}
	m.pending[token] = pr

	return token, pr
}

// take removes and returns the pending request for token
func (m *mux) take(token string) (*pendingRequest, bool) {
	pr, ok := m.pending[token]
	if ok {
		delete(m.pending, token)
	}

	return pr, ok
}

// tokenFor extracts the request token from a concrete reply subject, or
// returns false if the subject is not one of ours.
func (m *mux) tokenFor(replySubject string) (string, bool) {
	if !subject.Matches(m.pattern(), replySubject) {
		return "", false
	}

	return subject.LastToken(replySubject), true
}

func (m *mux) drain() []*pendingRequest {
	pending := make([]*pendingRequest, 0, len(m.pending))

	for token, pr := range m.pending {
		pending = append(pending, pr)
		delete(m.pending, token)
	}

	return pending
}

// Request publishes data to subj and waits for the first reply. If timeout
// is zero the connection's RequestTimeout is used.
func (c *Conn) Request(ctx context.Context, subj string, data interface{}, timeout time.Duration) (*Msg, error) {
	if timeout < 0 {
		return nil, ErrInvalidTimeout
	}

	if timeout == 0 {
		timeout = c.opts.RequestTimeout
	}

	if err := subject.ValidatePublish(subj); err != nil {
		return nil, err
	}

	body, err := c.codec.Encode(data)
	if err != nil {
		return nil, err
	}

	token, pr, err := c.startRequest(subj, body)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-pr.done:
		return r.msg, r.err

	case <-timer.C:
		return c.abandonRequest(token, pr, ErrTimeout)

	case <-ctx.Done():
		return c.abandonRequest(token, pr, ctx.Err())
	}
}

func (c *Conn) startRequest(subj string, body []byte) (string, *pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return "", nil, ErrNotConnected
	}

	// The inbox subscription is (re)created lazily
	if c.mux.sub == nil || c.subs.get(c.mux.sub.sid) != c.mux.sub {
		sub := &Subscription{
			conn:    c,
			subject: c.mux.pattern(),
			handler: c.resolveRequest,
		}

		if err := c.subscribeLocked(sub); err != nil {
			return "", nil, err
		}

		c.mux.sub = sub
	}

	token, pr := c.mux.register()

	if err := c.publishLocked(subj, c.mux.replySubject(token), body); err != nil {
		c.mux.take(token)
		return "", nil, err
	}

	return token, pr, nil
}

// abandonRequest gives up on a request. If a reply won the race it is
// returned instead of err.
func (c *Conn) abandonRequest(token string, pr *pendingRequest, err error) (*Msg, error) {
	c.mu.Lock()
	_, stillPending := c.mux.take(token)
	c.mu.Unlock()

	if stillPending {
		return nil, err
	}

	r := <-pr.done
	return r.msg, r.err
}

// resolveRequest is the handler of the shared inbox subscription
func (c *Conn) resolveRequest(msg *Msg, err error) {
	c.mu.Lock()
	token, ok := c.mux.tokenFor(msg.Subject)
	var pr *pendingRequest
	if ok {
		pr, ok = c.mux.take(token)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("Dropping reply with no pending request", zap.String("subject", msg.Subject))
		return
	}

	// The inbox subscription is internal to the connection
	msg.Sub = nil

	pr.done <- reply{msg: msg, err: err}
}
