package protocol

// Frame is a single parsed protocol operation, including its payload if it
// has one.
type Frame interface {
	GetOp() Op
}

// InfoFrame is sent by the server when a client connects.
type InfoFrame struct {
	Info ServerInfo
}

// MsgFrame delivers a published message to the subscription identified by SID.
type MsgFrame struct {
	Subject string
	SID     uint64
	Reply   string
	Payload []byte
}

type PingFrame struct{}

type PongFrame struct{}

type OkFrame struct{}

// ErrFrame carries the description of a server side error, with any
// surrounding quotes removed.
type ErrFrame struct {
	Message string
}

type ConnectFrame struct {
	Options ConnectOptions
}

type PubFrame struct {
	Subject string
	Reply   string
	Payload []byte
}

type SubFrame struct {
	Subject string
	Queue   string
	SID     uint64
}

// UnsubFrame removes a subscription. When Max is greater than zero the
// subscription is instead removed once Max messages have been delivered.
type UnsubFrame struct {
	SID uint64
	Max int
}

func (*InfoFrame) GetOp() Op    { return INFO }
func (*MsgFrame) GetOp() Op     { return MSG }
func (*PingFrame) GetOp() Op    { return PING }
func (*PongFrame) GetOp() Op    { return PONG }
func (*OkFrame) GetOp() Op      { return OK }
func (*ErrFrame) GetOp() Op     { return ERR }
func (*ConnectFrame) GetOp() Op { return CONNECT }
func (*PubFrame) GetOp() Op     { return PUB }
func (*SubFrame) GetOp() Op     { return SUB }
func (*UnsubFrame) GetOp() Op   { return UNSUB }

var _ Frame = (*InfoFrame)(nil)
var _ Frame = (*MsgFrame)(nil)
var _ Frame = (*PingFrame)(nil)
var _ Frame = (*PongFrame)(nil)
var _ Frame = (*OkFrame)(nil)
var _ Frame = (*ErrFrame)(nil)
var _ Frame = (*ConnectFrame)(nil)
var _ Frame = (*PubFrame)(nil)
var _ Frame = (*SubFrame)(nil)
var _ Frame = (*UnsubFrame)(nil)
