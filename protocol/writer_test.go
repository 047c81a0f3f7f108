package protocol_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/courier/protocol"
)

// countingWriter records how many times Write was called
type countingWriter struct {
	bytes.Buffer
	writes int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.writes++
	return c.Buffer.Write(p)
}

var _ = Describe("Writer", func() {
	var w *countingWriter

	BeforeEach(func() {
		w = &countingWriter{}
	})

	Describe("WritePub", func() {
		It("writes the subject, size and payload", func() {
			Expect(protocol.WritePub(w, "foo.bar", "", []byte("hello"))).To(Succeed())
			Expect(w.String()).To(Equal("PUB foo.bar 5\r\nhello\r\n"))
		})

		It("includes the reply subject", func() {
			Expect(protocol.WritePub(w, "foo", "_INBOX.1", []byte("hi"))).To(Succeed())
			Expect(w.String()).To(Equal("PUB foo _INBOX.1 2\r\nhi\r\n"))
		})

		It("writes empty payloads", func() {
			Expect(protocol.WritePub(w, "foo", "", nil)).To(Succeed())
			Expect(w.String()).To(Equal("PUB foo 0\r\n\r\n"))
		})

		It("writes the whole frame in a single Write", func() {
			Expect(protocol.WritePub(w, "foo", "bar", []byte("payload"))).To(Succeed())
			Expect(w.writes).To(Equal(1))
		})
	})

	Describe("WriteSub", func() {
		It("writes the subject and sid", func() {
			Expect(protocol.WriteSub(w, "foo.*", "", 7)).To(Succeed())
			Expect(w.String()).To(Equal("SUB foo.* 7\r\n"))
		})

		It("includes the queue group", func() {
			Expect(protocol.WriteSub(w, "foo", "workers", 7)).To(Succeed())
			Expect(w.String()).To(Equal("SUB foo workers 7\r\n"))
		})
	})

	Describe("WriteUnsub", func() {
		It("writes the sid", func() {
			Expect(protocol.WriteUnsub(w, 3, 0)).To(Succeed())
			Expect(w.String()).To(Equal("UNSUB 3\r\n"))
		})

		It("includes a positive maximum", func() {
			Expect(protocol.WriteUnsub(w, 3, 10)).To(Succeed())
			Expect(w.String()).To(Equal("UNSUB 3 10\r\n"))
		})
	})

	Describe("WriteMsg", func() {
		It("writes the subject, sid, reply and payload", func() {
			Expect(protocol.WriteMsg(w, "foo", 12, "bar", []byte("x"))).To(Succeed())
			Expect(w.String()).To(Equal("MSG foo 12 bar 1\r\nx\r\n"))
		})
	})

	It("writes PING, PONG and +OK", func() {
		Expect(protocol.WritePing(w)).To(Succeed())
		Expect(protocol.WritePong(w)).To(Succeed())
		Expect(protocol.WriteOk(w)).To(Succeed())
		Expect(w.String()).To(Equal("PING\r\nPONG\r\n+OK\r\n"))
	})

	It("writes -ERR with a quoted message", func() {
		Expect(protocol.WriteError(w, "Stale Connection")).To(Succeed())
		Expect(w.String()).To(Equal("-ERR 'Stale Connection'\r\n"))
	})

	It("round trips frames through the reader", func() {
		Expect(protocol.WriteSub(w, "foo.>", "q", 1)).To(Succeed())
		Expect(protocol.WritePub(w, "foo.bar", "reply", []byte("body"))).To(Succeed())
		Expect(protocol.WriteUnsub(w, 1, 2)).To(Succeed())

		r := protocol.NewReader(&w.Buffer)

		frame, err := r.ReadClientFrame()
		Expect(err).To(Succeed())
		Expect(frame).To(Equal(&protocol.SubFrame{Subject: "foo.>", Queue: "q", SID: 1}))

		frame, err = r.ReadClientFrame()
		Expect(err).To(Succeed())
		Expect(frame).To(Equal(&protocol.PubFrame{Subject: "foo.bar", Reply: "reply", Payload: []byte("body")}))

		frame, err = r.ReadClientFrame()
		Expect(err).To(Succeed())
		Expect(frame).To(Equal(&protocol.UnsubFrame{SID: 1, Max: 2}))
	})
})
