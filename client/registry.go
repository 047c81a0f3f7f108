package client

import (
	"io"

	"go.uber.org/zap"

	"github.com/luma/courier/protocol"
)

// registry owns the live subscriptions of a connection, keyed by sid. All
// methods must be called with the connection's lock held.
type registry struct {
	out      io.Writer
	timeouts *timeouts

	sid  uint64
	subs map[uint64]*Subscription
}

func newRegistry(out io.Writer, timeouts *timeouts) *registry {
	return &registry{
		out:      out,
		timeouts: timeouts,
		subs:     make(map[uint64]*Subscription),
	}
}

// add assigns the next sid to sub, registers it and emits SUB. If sub has a
// delivery limit UNSUB <sid> <max> is emitted as well so that the server
// stops sending once the limit is reached.
func (r *registry) add(sub *Subscription) error {
	r.sid++
	sub.sid = r.sid

	if err := protocol.WriteSub(r.out, sub.subject, sub.queue, sub.sid); err != nil {
		return err
	}

	if sub.max > 0 {
		if err := protocol.WriteUnsub(r.out, sub.sid, sub.max); err != nil {
			return err
		}
	}

	r.subs[sub.sid] = sub
	return nil
}

func (r *registry) get(sid uint64) *Subscription {
	return r.subs[sid]
}

// remove emits UNSUB, drops the subscription and disarms its timeout. It
// returns false, and emits nothing, if sid is not registered.
func (r *registry) remove(sid uint64) bool {
	if !r.forget(sid) {
		return false
	}

	// The local state is already gone, a failed write only means the server
	// may deliver a few more messages which are then dropped.
	_ = protocol.WriteUnsub(r.out, sid, 0)

	return true
}

// forget drops the subscription without telling the server. It is used once
// the server has removed the subscription itself.
func (r *registry) forget(sid uint64) bool {
	if _, ok := r.subs[sid]; !ok {
		return false
	}

	delete(r.subs, sid)
	r.timeouts.cancel(sid)

	return true
}

func (r *registry) len() int {
	return len(r.subs)
}

// clear forgets every subscription
func (r *registry) clear() {
	for sid := range r.subs {
		r.forget(sid)
	}
}

// dispatch delivers a MSG to the subscription with the matching sid
func (c *Conn) dispatch(frame *protocol.MsgFrame) {
	c.mu.Lock()

	sub := c.subs.get(frame.SID)
	if sub == nil || c.state != Connected {
		c.mu.Unlock()
		c.log.Debug("Dropping message for unknown subscription",
			zap.Uint64("sid", frame.SID),
			zap.String("subject", frame.Subject))
		return
	}

	if sub.max > 0 && sub.received >= sub.max {
		c.mu.Unlock()
		return
	}

	sub.received++
	c.stats.InMsgs++
	c.stats.InBytes += uint64(len(frame.Payload))
	c.timeouts.cancel(sub.sid)

	last := sub.max > 0 && sub.received == sub.max
	codec := c.codec
	c.mu.Unlock()

	msg := &Msg{
		Subject: frame.Subject,
		Reply:   frame.Reply,
		SID:     frame.SID,
		Raw:     frame.Payload,
		Sub:     sub,
	}

	data, err := codec.Decode(frame.Payload)
	msg.Data = data

	sub.handler(msg, err)

	if last {
		// The server removed the subscription when it sent this message
		c.mu.Lock()
		if c.subs.get(sub.sid) == sub {
			c.subs.forget(sub.sid)
		}
		c.mu.Unlock()
	}
}
