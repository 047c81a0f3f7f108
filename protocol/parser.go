package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// MaxControlLineSize bounds the length of a control line sent by a
	// client, including its terminator.
	MaxControlLineSize = 4096

	// MaxServerLineSize bounds the length of a control line sent by a
	// server. INFO grows with the server's cluster and auth settings.
	MaxServerLineSize = 64 * 1024

	// MaxPayloadLimit caps every payload regardless of SetMaxPayload.
	MaxPayloadLimit = 64 * 1024 * 1024
)

var (
	ErrUnknownOp            = errors.New("Unknown protocol operation")
	ErrMalformedFrame       = errors.New("Protocol operation is malformed")
	ErrControlLineTooLong   = errors.New("Control line exceeds the maximum size")
	ErrBadPayloadTerminator = errors.New("Payload is not terminated by CRLF")
	ErrPayloadTooLarge      = errors.New("Payload exceeds the maximum size")

	PrefixConnect = []byte("CONNECT")
	PrefixInfo    = []byte("INFO")
	PrefixMsg     = []byte("MSG")
	PrefixPub     = []byte("PUB")
	PrefixSub     = []byte("SUB")
	PrefixUnsub   = []byte("UNSUB")
	PrefixPing    = []byte("PING")
	PrefixPong    = []byte("PONG")
	PrefixOk      = []byte("+OK")
	PrefixErr     = []byte("-ERR")
)

// Reader parses a stream of protocol operations. A Reader is not safe for
// concurrent use; each connection has a single read loop that owns it.
//
// Any error returned by the Reader other than io.EOF leaves the stream at an
// unknown position, the connection should be closed as the protocol cannot
// be resynchronised.
type Reader struct {
	r          *bufio.Reader
	maxPayload int
	line       []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, MaxControlLineSize)}
}

// SetMaxPayload bounds the size of payloads the Reader will accept. Zero, the
// default, means MaxPayloadLimit.
func (r *Reader) SetMaxPayload(n int) {
	r.maxPayload = n
}

// ReadServerFrame reads the next operation sent by a server: MSG, PING, PONG,
// +OK, -ERR or INFO.
func (r *Reader) ReadServerFrame() (Frame, error) {
	op, args, err := r.readControlLine(MaxServerLineSize)
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.Equal(op, PrefixMsg):
		return r.readMsg(args)

	case bytes.Equal(op, PrefixPing):
		return &PingFrame{}, nil

	case bytes.Equal(op, PrefixPong):
		return &PongFrame{}, nil

	case bytes.Equal(op, PrefixOk):
		return &OkFrame{}, nil

	case bytes.Equal(op, PrefixErr):
		return &ErrFrame{Message: unquote(string(bytes.TrimSpace(args)))}, nil

	case bytes.Equal(op, PrefixInfo):
		info, err := ParseServerInfo(bytes.TrimSpace(args))
		if err != nil {
			return nil, err
		}

		return &InfoFrame{Info: info}, nil

	default:
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(op), ErrUnknownOp)
	}
}

// ReadClientFrame reads the next operation sent by a client: CONNECT, PUB,
// SUB, UNSUB, PING or PONG.
func (r *Reader) ReadClientFrame() (Frame, error) {
	op, args, err := r.readControlLine(MaxControlLineSize)
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.Equal(op, PrefixPub):
		return r.readPub(args)

	case bytes.Equal(op, PrefixSub):
		return parseSub(args)

	case bytes.Equal(op, PrefixUnsub):
		return parseUnsub(args)

	case bytes.Equal(op, PrefixPing):
		return &PingFrame{}, nil

	case bytes.Equal(op, PrefixPong):
		return &PongFrame{}, nil

	case bytes.Equal(op, PrefixConnect):
		opts, err := ParseConnectOptions(bytes.TrimSpace(args))
		if err != nil {
			return nil, err
		}

		return &ConnectFrame{Options: opts}, nil

	default:
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(op), ErrUnknownOp)
	}
}

// readControlLine reads a single CRLF terminated line of at most limit bytes
// and splits it into the operation keyword and the remaining arguments. The
// returned slices are only valid until the next read.
func (r *Reader) readControlLine(limit int) (op, args []byte, err error) {
	line, err := r.r.ReadSlice('\n')

	// Lines longer than the buffer are stitched together in r.line
	if errors.Is(err, bufio.ErrBufferFull) {
		r.line = append(r.line[:0], line...)
		for errors.Is(err, bufio.ErrBufferFull) && len(r.line) <= limit {
			line, err = r.r.ReadSlice('\n')
			r.line = append(r.line, line...)
		}
		line = r.line
	}

	if len(line) > limit {
		return nil, nil, ErrControlLineTooLong
	}

	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, nil, io.ErrUnexpectedEOF
		}

		return nil, nil, err
	}

	// Strip the '\n' and the optional '\r'
	line = RemoveTrailingCR(line[:len(line)-1])

	i := bytes.IndexAny(line, " \t")
	if i < 0 {
		return line, nil, nil
	}

	return line[:i], line[i+1:], nil
}

// MSG <subject> <sid> [reply-to] <#bytes>
func (r *Reader) readMsg(rawArgs []byte) (Frame, error) {
	args := strings.Fields(string(rawArgs))

	var msg MsgFrame
	var sizeArg string

	switch len(args) {
	case 3:
		msg.Subject, sizeArg = args[0], args[2]
	case 4:
		msg.Subject, msg.Reply, sizeArg = args[0], args[2], args[3]
	default:
		return nil, malformed(MSG, rawArgs)
	}

	sid, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return nil, malformed(MSG, rawArgs)
	}
	msg.SID = sid

	if msg.Payload, err = r.readPayload(sizeArg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// PUB <subject> [reply-to] <#bytes>
func (r *Reader) readPub(rawArgs []byte) (Frame, error) {
	args := strings.Fields(string(rawArgs))

	var pub PubFrame
	var sizeArg string

	switch len(args) {
	case 2:
		pub.Subject, sizeArg = args[0], args[1]
	case 3:
		pub.Subject, pub.Reply, sizeArg = args[0], args[1], args[2]
	default:
		return nil, malformed(PUB, rawArgs)
	}

	payload, err := r.readPayload(sizeArg)
	if err != nil {
		return nil, err
	}
	pub.Payload = payload

	return &pub, nil
}

// readPayload reads exactly size bytes followed by a CRLF.
func (r *Reader) readPayload(sizeArg string) ([]byte, error) {
	size, err := strconv.Atoi(sizeArg)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("Failed to parse payload size '%s': %w",
			sizeArg, ErrMalformedFrame)
	}

	limit := r.maxPayload
	if limit <= 0 || limit > MaxPayloadLimit {
		limit = MaxPayloadLimit
	}

	if size > limit {
		return nil, fmt.Errorf("Payload of %d bytes (max %d): %w",
			size, limit, ErrPayloadTooLarge)
	}

	buf := make([]byte, size+2)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if buf[size] != '\r' || buf[size+1] != '\n' {
		return nil, ErrBadPayloadTerminator
	}

	return buf[:size:size], nil
}

// SUB <subject> [queue group] <sid>
func parseSub(rawArgs []byte) (Frame, error) {
	args := strings.Fields(string(rawArgs))

	var sub SubFrame
	var sidArg string

	switch len(args) {
	case 2:
		sub.Subject, sidArg = args[0], args[1]
	case 3:
		sub.Subject, sub.Queue, sidArg = args[0], args[1], args[2]
	default:
		return nil, malformed(SUB, rawArgs)
	}

	sid, err := strconv.ParseUint(sidArg, 10, 64)
	if err != nil {
		return nil, malformed(SUB, rawArgs)
	}
	sub.SID = sid

	return &sub, nil
}

// UNSUB <sid> [max_msgs]
func parseUnsub(rawArgs []byte) (Frame, error) {
	args := strings.Fields(string(rawArgs))

	if len(args) < 1 || len(args) > 2 {
		return nil, malformed(UNSUB, rawArgs)
	}

	sid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return nil, malformed(UNSUB, rawArgs)
	}

	unsub := &UnsubFrame{SID: sid}

	if len(args) == 2 {
		if unsub.Max, err = strconv.Atoi(args[1]); err != nil || unsub.Max < 0 {
			return nil, malformed(UNSUB, rawArgs)
		}
	}

	return unsub, nil
}

func malformed(op Op, args []byte) error {
	return fmt.Errorf("Failed to parse '%s %s': %w", op, string(args), ErrMalformedFrame)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}

	return s
}

func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		// Remove the optional trailing \r
		return data[:len(data)-1]
	}

	return data
}
