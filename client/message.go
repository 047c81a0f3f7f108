package client

// Msg is a message delivered to a subscription.
type Msg struct {
	// Subject the message was published to. This is always a literal
	// subject, even for wildcard subscriptions.
	Subject string

	// Reply is the reply-to subject set by the publisher, if any
	Reply string

	// SID of the subscription that received the message
	SID uint64

	// Data is the payload decoded by the connection's payload codec
	Data interface{}

	// Raw is the payload as it was received
	Raw []byte

	// Sub is nil for replies returned by Request
	Sub *Subscription
}

// Respond publishes data to the message's reply subject.
func (m *Msg) Respond(data interface{}) error {
	if m.Reply == "" {
		return ErrNoReply
	}

	if m.Sub == nil {
		return ErrBadSubscription
	}

	return m.Sub.conn.Publish(m.Reply, data)
}

// MsgHandler is invoked for every message delivered to a subscription. err
// is set when the payload could not be decoded, in which case msg.Data is
// nil but msg.Raw is still available.
//
// Handlers run on the connection's read loop, one at a time and in the order
// messages arrive. A handler that blocks delays every other subscription on
// the connection, long running work should be handed off to another
// goroutine.
//
// Request and Flush must not be called from a handler. Their replies are read
// by the same loop the handler is blocking, so they always time out.
type MsgHandler func(msg *Msg, err error)
