package client

import (
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/luma/courier/protocol"
)

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")

	for {
		frame, err := c.reader.ReadServerFrame()
		if err != nil {
			if c.State() != Connected {
				// We closed the socket ourselves
				return
			}

			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isNetError(err) {
				log.Warn("Connection lost", zap.Error(err))
				c.close(fmt.Errorf("%w: %v", ErrConnectionLost, err))
				return
			}

			log.Error("Failed to parse server frame, closing", zap.Error(err))
			c.close(err)
			return
		}

		if !c.processFrame(frame) {
			return
		}
	}
}

// processFrame handles a single server frame. It returns false once the
// connection has been closed.
func (c *Conn) processFrame(frame protocol.Frame) bool {
	switch f := frame.(type) {
	case *protocol.MsgFrame:
		c.dispatch(f)

	case *protocol.PingFrame:
		c.mu.Lock()
		if c.state == Connected {
			_ = protocol.WritePong(c.out)
		}
		c.mu.Unlock()

	case *protocol.PongFrame:
		c.mu.Lock()
		c.pingsOut = 0
		done, ok := c.flushes.pop()
		c.mu.Unlock()

		if ok {
			done(nil)
		}

	case *protocol.OkFrame:

	case *protocol.InfoFrame:
		c.mu.Lock()
		c.setServerInfo(f.Info)
		c.mu.Unlock()

	case *protocol.ErrFrame:
		pe := &ProtocolError{Message: f.Message}

		c.log.Warn("Server error", zap.String("error", f.Message), zap.Bool("fatal", pe.Fatal()))

		if c.opts.ErrorHandler != nil {
			c.opts.ErrorHandler(c, pe)
		}

		if pe.Fatal() {
			c.close(pe)
			return false
		}
	}

	return c.State() == Connected
}

func (c *Conn) writeLoop() {
	log := c.log.Named("writeLoop")
	defer close(c.writerDone)

	for {
		select {
		case <-c.out.kick:
			if err := c.writePending(); err != nil {
				log.Warn("Failed to write, closing connection", zap.Error(err))
				c.closeSocket()
				return
			}

		case <-c.stopWriter:
			if err := c.writePending(); err != nil {
				log.Warn("Failed to write buffered frames while closing", zap.Error(err))
			}
			return
		}
	}
}

func (c *Conn) writePending() error {
	c.mu.Lock()
	data := c.out.take()
	c.mu.Unlock()

	if len(data) == 0 {
		return nil
	}

	_, err := c.conn.Write(data)
	if err != nil {
		c.mu.Lock()
		c.writeErr = err
		c.mu.Unlock()
	}

	return err
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, net.ErrClosed)
}
