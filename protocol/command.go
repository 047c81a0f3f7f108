package protocol

// Op is the keyword that starts every control line. Keywords are case
// sensitive.
type Op string

// Operations sent by clients
const (
	CONNECT Op = "CONNECT"
	PUB     Op = "PUB"
	SUB     Op = "SUB"
	UNSUB   Op = "UNSUB"
)

// Operations sent by servers
const (
	INFO Op = "INFO"
	MSG  Op = "MSG"
	OK   Op = "+OK"
	ERR  Op = "-ERR"
)

// Operations either side may send
const (
	PING Op = "PING"
	PONG Op = "PONG"
)
