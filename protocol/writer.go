package protocol

import (
	"io"
	"strconv"
)

var (
	Terminal = []byte("\r\n")

	PingTerminal = []byte("PING\r\n")
	PongTerminal = []byte("PONG\r\n")
	OkTerminal   = []byte("+OK\r\n")
)

// Each writer issues exactly one Write per operation so that operations from
// concurrent callers sharing a writer never interleave.

func WriteConnect(w io.Writer, opts ConnectOptions) error {
	body, err := opts.Marshal()
	if err != nil {
		return err
	}

	return writeLine(w, PrefixConnect, body)
}

func WriteInfo(w io.Writer, info ServerInfo) error {
	body, err := info.Marshal()
	if err != nil {
		return err
	}

	return writeLine(w, PrefixInfo, body)
}

// WritePub writes PUB <subject> [reply-to] <#bytes>\r\n<payload>\r\n
func WritePub(w io.Writer, subject, reply string, payload []byte) error {
	b := make([]byte, 0, len(subject)+len(reply)+len(payload)+32)
	b = append(b, PrefixPub...)
	b = appendArgs(b, subject, reply)
	b = appendPayload(b, payload)

	_, err := w.Write(b)
	return err
}

// WriteMsg writes MSG <subject> <sid> [reply-to] <#bytes>\r\n<payload>\r\n
func WriteMsg(w io.Writer, subject string, sid uint64, reply string, payload []byte) error {
	b := make([]byte, 0, len(subject)+len(reply)+len(payload)+48)
	b = append(b, PrefixMsg...)
	b = appendArgs(b, subject, strconv.FormatUint(sid, 10), reply)
	b = appendPayload(b, payload)

	_, err := w.Write(b)
	return err
}

// WriteSub writes SUB <subject> [queue group] <sid>\r\n
func WriteSub(w io.Writer, subject, queue string, sid uint64) error {
	b := append([]byte{}, PrefixSub...)
	b = appendArgs(b, subject, queue, strconv.FormatUint(sid, 10))
	b = append(b, Terminal...)

	_, err := w.Write(b)
	return err
}

// WriteUnsub writes UNSUB <sid> [max_msgs]\r\n. The max argument is omitted
// when it is not positive.
func WriteUnsub(w io.Writer, sid uint64, max int) error {
	b := append([]byte{}, PrefixUnsub...)
	b = appendArgs(b, strconv.FormatUint(sid, 10))

	if max > 0 {
		b = appendArgs(b, strconv.Itoa(max))
	}

	b = append(b, Terminal...)

	_, err := w.Write(b)
	return err
}

func WritePing(w io.Writer) error {
	_, err := w.Write(PingTerminal)
	return err
}

func WritePong(w io.Writer) error {
	_, err := w.Write(PongTerminal)
	return err
}

func WriteOk(w io.Writer) error {
	_, err := w.Write(OkTerminal)
	return err
}

func WriteError(w io.Writer, errMsg string) error {
	return writeLine(w, PrefixErr, []byte("'"+errMsg+"'"))
}

func writeLine(w io.Writer, op []byte, body []byte) error {
	b := make([]byte, 0, len(op)+len(body)+3)
	b = append(b, op...)
	b = append(b, ' ')
	b = append(b, body...)
	b = append(b, Terminal...)

	_, err := w.Write(b)
	return err
}

// appendArgs appends each non-empty argument preceded by a space
func appendArgs(b []byte, args ...string) []byte {
	for _, arg := range args {
		if arg == "" {
			continue
		}

		b = append(b, ' ')
		b = append(b, arg...)
	}

	return b
}

func appendPayload(b []byte, payload []byte) []byte {
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(len(payload)), 10)
	b = append(b, Terminal...)
	b = append(b, payload...)
	return append(b, Terminal...)
}
