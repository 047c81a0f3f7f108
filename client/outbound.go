package client

import "bytes"

// outbound buffers framed operations until the write loop picks them up.
// It must only be used with the connection's lock held, which keeps frames
// in the order their operations were performed.
type outbound struct {
	buf  bytes.Buffer
	kick chan struct{}
}

func newOutbound() *outbound {
	return &outbound{kick: make(chan struct{}, 1)}
}

// Write appends p and wakes the write loop. It never fails.
func (o *outbound) Write(p []byte) (int, error) {
	n, _ := o.buf.Write(p)

	select {
	case o.kick <- struct{}{}:
	default:
		// the write loop already has a wake up pending
	}

	return n, nil
}

// take returns a copy of everything buffered and resets the buffer
func (o *outbound) take() []byte {
	if o.buf.Len() == 0 {
		return nil
	}

	data := append([]byte(nil), o.buf.Bytes()...)
	o.buf.Reset()

	return data
}

func (o *outbound) len() int {
	return o.buf.Len()
}
