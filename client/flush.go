package client

import (
	"context"

	"go.uber.org/zap"

	"github.com/luma/courier/protocol"
)

// flushQueue holds the completions waiting for a PONG, oldest first. The
// server answers PINGs in order so the head of the queue always belongs to
// the next PONG. All methods must be called with the connection's lock held.
type flushQueue struct {
	pending []func(error)
}

func (q *flushQueue) push(done func(error)) {
	q.pending = append(q.pending, done)
}

func (q *flushQueue) pop() (func(error), bool) {
	if len(q.pending) == 0 {
		return nil, false
	}

	done := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	return done, true
}

// drain removes and returns every pending completion
func (q *flushQueue) drain() []func(error) {
	pending := q.pending
	q.pending = nil
	return pending
}

func (q *flushQueue) len() int {
	return len(q.pending)
}

// FlushFunc sends a PING and calls done once the matching PONG arrives, or
// with ErrConnectionClosed if the connection closes first. Flushes complete
// in the order they were issued.
func (c *Conn) FlushFunc(done func(error)) error {
	if done == nil {
		done = func(error) {}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrNotConnected
	}

	c.flushes.push(done)
	return protocol.WritePing(c.out)
}

// Flush waits until the server has processed everything sent so far.
func (c *Conn) Flush(ctx context.Context) error {
	done := make(chan error, 1)

	if err := c.FlushFunc(func(err error) { done <- err }); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) sendKeepAlive() {
	c.mu.Lock()

	if c.state != Connected {
		c.mu.Unlock()
		return
	}

	if c.pingsOut >= c.opts.MaxPingsOut {
		c.mu.Unlock()
		c.log.Warn("Too many unanswered PINGs", zap.Int("pingsOut", c.pingsOut))
		c.close(ErrStaleConnection)
		return
	}

	c.pingsOut++
	c.flushes.push(func(error) {})
	_ = protocol.WritePing(c.out)
	c.pinger.Reset(c.opts.PingInterval)

	c.mu.Unlock()
}
