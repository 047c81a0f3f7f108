package client_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/courier/broker"
	"github.com/luma/courier/client"
	"github.com/luma/courier/payload"
	"github.com/luma/courier/subject"
)

var _ = Describe("client / Conn", func() {
	var (
		server *broker.Server
		conn   *client.Conn
	)

	BeforeEach(func() {
		server = startBroker(broker.Options{})
		conn = connect(server, client.Options{Name: "conn-test"})
	})

	AfterEach(func() {
		Expect(conn.Close()).To(Succeed())
		Expect(server.Close()).To(Succeed())
	})

	It("is connected after Connect returns", func() {
		Expect(conn.State()).To(Equal(client.Connected))
		Expect(conn.ServerInfo().ServerID).To(Equal(server.Info().ServerID))
		Expect(conn.MaxPayload()).To(Equal(server.Info().MaxPayload))
		Eventually(server.NumClients).Should(Equal(1))
	})

	Describe("Subscribe()", func() {
		It("delivers published messages", func() {
			received := make(chan *client.Msg, 1)

			_, err := conn.Subscribe("foo", func(msg *client.Msg, err error) {
				Expect(err).To(Succeed())
				received <- msg
			})
			Expect(err).To(Succeed())

			Expect(conn.Publish("foo", "hello")).To(Succeed())

			var msg *client.Msg
			Eventually(received).Should(Receive(&msg))
			Expect(msg.Subject).To(Equal("foo"))
			Expect(msg.Data).To(Equal([]byte("hello")))
			Expect(msg.Raw).To(Equal([]byte("hello")))
		})

		It("tracks the number of subscriptions", func() {
			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())
			_, err = conn.Subscribe("bar", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(conn.NumSubscriptions()).To(Equal(2))

			Expect(sub.Unsubscribe()).To(Succeed())
			Expect(conn.NumSubscriptions()).To(Equal(1))
			Expect(sub.IsValid()).To(BeFalse())

			flush(conn)
			Expect(server.NumSubscriptions()).To(Equal(1))
		})

		It("counts deliveries for wildcard subscriptions", func() {
			counts := map[string]int{}
			count := func(pattern string) {
				_, err := conn.Subscribe(pattern, func(*client.Msg, error) {
					counts[pattern]++
				})
				Expect(err).To(Succeed())
			}

			count("foo.*")
			count("foo.*.baz")
			count("foo.>")

			for _, subj := range []string{"foo.bar", "foo.baz", "foo.bar.baz", "foo.qux.baz", "foo.a.b.c", "bar.foo"} {
				Expect(conn.Publish(subj, nil)).To(Succeed())
			}

			flush(conn)

			Expect(counts).To(Equal(map[string]int{
				"foo.*":     2,
				"foo.*.baz": 2,
				"foo.>":     5,
			}))
		})

		It("rejects invalid subjects and nil handlers", func() {
			_, err := conn.Subscribe("", func(*client.Msg, error) {})
			Expect(err).To(MatchError(subject.ErrEmpty))

			_, err = conn.Subscribe("foo.>.bar", func(*client.Msg, error) {})
			Expect(err).To(MatchError(subject.ErrMisplacedFull))

			_, err = conn.Subscribe("foo", nil)
			Expect(err).To(MatchError(client.ErrNilHandler))

			_, err = conn.Subscribe("foo", func(*client.Msg, error) {}, client.WithQueue("bad group"))
			Expect(err).To(MatchError(subject.ErrBadQueueGroup))

			Expect(conn.NumSubscriptions()).To(Equal(0))
		})

		It("delivers to a single queue group member", func() {
			var mu sync.Mutex
			total := 0

			for i := 0; i < 3; i++ {
				_, err := conn.Subscribe("work", func(*client.Msg, error) {
					mu.Lock()
					total++
					mu.Unlock()
				}, client.WithQueue("workers"))
				Expect(err).To(Succeed())
			}

			for i := 0; i < 10; i++ {
				Expect(conn.Publish("work", nil)).To(Succeed())
			}

			flush(conn)

			mu.Lock()
			defer mu.Unlock()
			Expect(total).To(Equal(10))
		})

		It("delivers messages to a channel", func() {
			ch := make(chan *client.Msg, 4)

			_, err := conn.ChanSubscribe("foo", ch)
			Expect(err).To(Succeed())

			Expect(conn.Publish("foo", "one")).To(Succeed())
			Expect(conn.Publish("foo", "two")).To(Succeed())
			flush(conn)

			Expect(ch).To(HaveLen(2))
			Expect((<-ch).Data).To(Equal([]byte("one")))
			Expect((<-ch).Data).To(Equal([]byte("two")))
		})
	})

	Describe("max messages", func() {
		It("delivers exactly one message when max is 1", func() {
			calls := 0

			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {
				calls++
			}, client.WithMax(1))
			Expect(err).To(Succeed())
			Expect(conn.NumSubscriptions()).To(Equal(1))

			for i := 0; i < 10; i++ {
				Expect(conn.Publish("foo", nil)).To(Succeed())
			}

			flush(conn)

			Expect(calls).To(Equal(1))
			Expect(sub.Received()).To(Equal(1))
			Expect(sub.IsValid()).To(BeFalse())
			Expect(conn.NumSubscriptions()).To(Equal(0))
			Expect(server.NumSubscriptions()).To(Equal(0))
		})

		It("can limit a subscription after it was created", func() {
			calls := 0

			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {
				calls++
			})
			Expect(err).To(Succeed())

			Expect(sub.AutoUnsubscribe(2)).To(Succeed())
			Expect(sub.Max()).To(Equal(2))

			for i := 0; i < 5; i++ {
				Expect(conn.Publish("foo", nil)).To(Succeed())
			}

			flush(conn)

			Expect(calls).To(Equal(2))
			Expect(conn.NumSubscriptions()).To(Equal(0))
		})

		It("removes a subscription that has already reached the limit", func() {
			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(conn.Publish("foo", nil)).To(Succeed())
			Expect(conn.Publish("foo", nil)).To(Succeed())
			flush(conn)

			Expect(sub.AutoUnsubscribe(2)).To(Succeed())
			Expect(sub.IsValid()).To(BeFalse())
			Expect(sub.AutoUnsubscribe(3)).To(MatchError(client.ErrBadSubscription))
		})
	})

	Describe("Unsubscribe()", func() {
		It("stops delivery when called from a callback", func() {
			calls := 0

			_, err := conn.Subscribe("foo", func(msg *client.Msg, err error) {
				calls++
				Expect(msg.Sub.Unsubscribe()).To(Succeed())
			})
			Expect(err).To(Succeed())

			for i := 0; i < 10; i++ {
				Expect(conn.Publish("foo", nil)).To(Succeed())
			}

			flush(conn)

			Expect(calls).To(Equal(1))
			Expect(conn.NumSubscriptions()).To(Equal(0))
		})

		It("can be called twice", func() {
			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(conn.Unsubscribe(sub)).To(Succeed())
			Expect(conn.Unsubscribe(sub)).To(Succeed())
			Expect(conn.NumSubscriptions()).To(Equal(0))
		})
	})

	Describe("Publish()", func() {
		It("rejects subjects with wildcards", func() {
			Expect(conn.Publish("foo.*", nil)).To(MatchError(subject.ErrWildcard))
			Expect(conn.Publish("", nil)).To(MatchError(subject.ErrEmpty))
			Expect(conn.PublishRequest("foo", "reply.>", nil)).To(MatchError(subject.ErrWildcard))
		})

		It("rejects payloads larger than the maximum", func() {
			small := connect(server, client.Options{MaxPayload: 8})
			defer small.Close()

			Expect(small.Publish("foo", "12345678")).To(Succeed())
			Expect(small.Publish("foo", "123456789")).To(MatchError(client.ErrMaxPayload))
			Expect(small.State()).To(Equal(client.Connected))
		})

		It("passes the reply subject to subscribers", func() {
			received := make(chan *client.Msg, 1)

			_, err := conn.Subscribe("foo", func(msg *client.Msg, err error) {
				received <- msg
			})
			Expect(err).To(Succeed())

			Expect(conn.PublishRequest("foo", "answers", nil)).To(Succeed())

			var msg *client.Msg
			Eventually(received).Should(Receive(&msg))
			Expect(msg.Reply).To(Equal("answers"))
		})

		It("does not deliver to itself with NoEcho", func() {
			quiet := connect(server, client.Options{NoEcho: true})
			defer quiet.Close()

			calls := 0
			_, err := quiet.Subscribe("foo", func(*client.Msg, error) { calls++ })
			Expect(err).To(Succeed())

			Expect(quiet.Publish("foo", nil)).To(Succeed())
			flush(quiet)
			Expect(calls).To(Equal(0))

			Expect(conn.Publish("foo", nil)).To(Succeed())
			flush(conn)
			Eventually(func() int {
				flush(quiet)
				return calls
			}).Should(Equal(1))
		})

		It("counts traffic in Stats", func() {
			_, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(conn.Publish("foo", "abc")).To(Succeed())
			Expect(conn.Publish("foo", "de")).To(Succeed())
			flush(conn)

			Expect(conn.Stats()).To(Equal(client.Stats{
				InMsgs: 2, OutMsgs: 2, InBytes: 5, OutBytes: 5,
			}))
		})
	})

	Describe("Request()", func() {
		It("resolves with the responder's reply", func() {
			_, err := conn.Subscribe("help", func(msg *client.Msg, err error) {
				Expect(msg.Respond("I can help")).To(Succeed())
			})
			Expect(err).To(Succeed())

			reply, err := conn.Request(context.Background(), "help", "please", time.Second)
			Expect(err).To(Succeed())
			Expect(reply.Data).To(Equal([]byte("I can help")))

			Expect(client.PendingRequests(conn)).To(Equal(0))
			Expect(conn.NumSubscriptions()).To(Equal(1))
		})

		It("shares one inbox subscription between requests", func() {
			_, err := conn.Subscribe("echo", func(msg *client.Msg, err error) {
				Expect(msg.Respond(msg.Data)).To(Succeed())
			})
			Expect(err).To(Succeed())

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()

					body := []byte{byte('a' + i)}
					reply, err := conn.Request(context.Background(), "echo", body, time.Second)
					Expect(err).To(Succeed())
					Expect(reply.Data).To(Equal(body))
				}(i)
			}
			wg.Wait()

			inbox := client.InboxSubscription(conn)
			Expect(inbox).NotTo(BeNil())
			Expect(inbox.Subject()).To(HavePrefix(subject.InboxPrefix + "."))
			Expect(inbox.Subject()).To(HaveSuffix(".*"))
			Expect(server.NumSubscriptions()).To(Equal(2))
			Expect(client.PendingRequests(conn)).To(Equal(0))
		})

		It("does not hand the inbox subscription to callers", func() {
			_, err := conn.Subscribe("help", func(msg *client.Msg, err error) {
				Expect(msg.Respond("ok")).To(Succeed())
			})
			Expect(err).To(Succeed())

			reply, err := conn.Request(context.Background(), "help", nil, time.Second)
			Expect(err).To(Succeed())
			Expect(reply.Sub).To(BeNil())
		})

		It("resubscribes the inbox if it was removed", func() {
			_, err := conn.Subscribe("help", func(msg *client.Msg, err error) {
				Expect(msg.Respond("ok")).To(Succeed())
			})
			Expect(err).To(Succeed())

			_, err = conn.Request(context.Background(), "help", nil, time.Second)
			Expect(err).To(Succeed())

			first := client.InboxSubscription(conn)
			Expect(first.Unsubscribe()).To(Succeed())

			reply, err := conn.Request(context.Background(), "help", nil, time.Second)
			Expect(err).To(Succeed())
			Expect(reply.Data).To(Equal([]byte("ok")))

			second := client.InboxSubscription(conn)
			Expect(second).NotTo(BeIdenticalTo(first))
			Expect(second.Subject()).To(Equal(first.Subject()))
			Expect(conn.NumSubscriptions()).To(Equal(1))
			Expect(server.NumSubscriptions()).To(Equal(2))
		})

		It("times out when nobody responds", func() {
			start := time.Now()

			_, err := conn.Request(context.Background(), "nobody.home", nil, 50*time.Millisecond)
			Expect(err).To(MatchError(client.ErrTimeout))
			Expect(time.Since(start)).To(BeNumerically(">=", 50*time.Millisecond))

			Expect(client.PendingRequests(conn)).To(Equal(0))
			Expect(conn.State()).To(Equal(client.Connected))
		})

		It("gives up when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := conn.Request(ctx, "nobody.home", nil, time.Second)
			Expect(err).To(MatchError(context.Canceled))
			Expect(client.PendingRequests(conn)).To(Equal(0))
		})

		It("rejects a negative timeout", func() {
			_, err := conn.Request(context.Background(), "help", nil, -time.Second)
			Expect(err).To(MatchError(client.ErrInvalidTimeout))
		})

		It("drops replies that arrive after the timeout", func() {
			release := make(chan struct{})
			var late *client.Msg

			_, err := conn.Subscribe("slow", func(msg *client.Msg, err error) {
				late = msg
				close(release)
			})
			Expect(err).To(Succeed())

			_, err = conn.Request(context.Background(), "slow", nil, 20*time.Millisecond)
			Expect(err).To(MatchError(client.ErrTimeout))

			Eventually(release).Should(BeClosed())
			Expect(late.Respond("too late")).To(Succeed())
			flush(conn)

			Expect(client.PendingRequests(conn)).To(Equal(0))
		})
	})

	Describe("Flush()", func() {
		It("completes flushes in the order they were issued", func() {
			var mu sync.Mutex
			var order []int

			_, err := conn.Subscribe("noise", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			for i := 0; i < 20; i++ {
				i := i
				Expect(conn.Publish("noise", nil)).To(Succeed())
				Expect(conn.FlushFunc(func(err error) {
					Expect(err).To(Succeed())

					mu.Lock()
					order = append(order, i)
					mu.Unlock()
				})).To(Succeed())
			}

			flush(conn)

			mu.Lock()
			defer mu.Unlock()

			Expect(order).To(HaveLen(20))
			for i, n := range order {
				Expect(n).To(Equal(i))
			}
			Expect(client.PendingFlushes(conn)).To(Equal(0))
		})

		It("accepts a nil completion", func() {
			Expect(conn.FlushFunc(nil)).To(Succeed())
			flush(conn)
		})
	})

	Describe("SetTimeout()", func() {
		It("fires a zero timeout on the next tick without unsubscribing", func() {
			fired := make(chan struct{})

			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(sub.SetTimeout(0, func() { close(fired) })).To(Succeed())

			Eventually(fired).Should(BeClosed())
			Expect(sub.HasTimeout()).To(BeFalse())
			Expect(sub.IsValid()).To(BeTrue())
		})

		It("is disarmed by a delivered message", func() {
			fired := make(chan struct{}, 1)

			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(sub.SetTimeout(200*time.Millisecond, func() { fired <- struct{}{} })).To(Succeed())
			Expect(sub.HasTimeout()).To(BeTrue())

			Expect(conn.Publish("foo", nil)).To(Succeed())
			flush(conn)

			Expect(sub.HasTimeout()).To(BeFalse())
			Consistently(fired, 400*time.Millisecond).ShouldNot(Receive())
		})

		It("can be cancelled", func() {
			fired := make(chan struct{}, 1)

			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(sub.SetTimeout(50*time.Millisecond, func() { fired <- struct{}{} })).To(Succeed())
			sub.CancelTimeout()
			sub.CancelTimeout()

			Expect(sub.HasTimeout()).To(BeFalse())
			Consistently(fired, 150*time.Millisecond).ShouldNot(Receive())
		})

		It("replaces an armed timeout", func() {
			first := make(chan struct{}, 1)
			second := make(chan struct{}, 1)

			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(sub.SetTimeout(30*time.Millisecond, func() { first <- struct{}{} })).To(Succeed())
			Expect(sub.SetTimeout(60*time.Millisecond, func() { second <- struct{}{} })).To(Succeed())

			Eventually(second).Should(Receive())
			Expect(first).NotTo(Receive())
		})

		It("rejects negative durations", func() {
			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(sub.SetTimeout(-time.Second, func() {})).To(MatchError(client.ErrInvalidTimeout))
		})

		It("can unsubscribe from the timeout callback", func() {
			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(sub.SetTimeout(10*time.Millisecond, func() {
				sub.Unsubscribe()
			})).To(Succeed())

			Eventually(sub.IsValid).Should(BeFalse())
			Expect(conn.NumSubscriptions()).To(Equal(0))
		})
	})

	Describe("payload modes", func() {
		It("exchanges JSON documents", func() {
			jsonConn := connect(server, client.Options{Payload: payload.JSON})
			defer jsonConn.Close()

			received := make(chan *client.Msg, 1)
			_, err := jsonConn.Subscribe("doc", func(msg *client.Msg, err error) {
				Expect(err).To(Succeed())
				received <- msg
			})
			Expect(err).To(Succeed())

			Expect(jsonConn.Publish("doc", map[string]interface{}{"name": "courier", "n": 2})).To(Succeed())

			var msg *client.Msg
			Eventually(received).Should(Receive(&msg))
			Expect(msg.Data).To(Equal(map[string]interface{}{"name": "courier", "n": float64(2)}))
		})

		It("reports payloads that can't be decoded", func() {
			jsonConn := connect(server, client.Options{Payload: payload.JSON})
			defer jsonConn.Close()

			errs := make(chan error, 1)
			_, err := jsonConn.Subscribe("doc", func(msg *client.Msg, err error) {
				Expect(msg.Raw).To(Equal([]byte("{nope")))
				errs <- err
			})
			Expect(err).To(Succeed())
			flush(jsonConn)

			Expect(conn.Publish("doc", "{nope")).To(Succeed())

			Eventually(errs).Should(Receive(MatchError(payload.ErrInvalidJSON)))
		})

		It("exchanges strings", func() {
			textConn := connect(server, client.Options{Payload: payload.UTF8})
			defer textConn.Close()

			received := make(chan *client.Msg, 1)
			_, err := textConn.Subscribe("text", func(msg *client.Msg, err error) {
				received <- msg
			})
			Expect(err).To(Succeed())

			Expect(textConn.Publish("text", "héllo")).To(Succeed())

			var msg *client.Msg
			Eventually(received).Should(Receive(&msg))
			Expect(msg.Data).To(Equal("héllo"))
		})

		It("refuses values the mode can't encode", func() {
			Expect(conn.Publish("foo", 42)).To(MatchError(payload.ErrUnsupportedType))
		})
	})

	Describe("Close()", func() {
		It("rejects operations once closed", func() {
			sub, err := conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(Succeed())

			Expect(conn.Close()).To(Succeed())
			Expect(conn.State()).To(Equal(client.Closed))
			Expect(conn.Closed()).To(BeClosed())

			Expect(conn.Publish("foo", nil)).To(MatchError(client.ErrNotConnected))
			_, err = conn.Subscribe("foo", func(*client.Msg, error) {})
			Expect(err).To(MatchError(client.ErrNotConnected))
			_, err = conn.Request(context.Background(), "foo", nil, time.Second)
			Expect(err).To(MatchError(client.ErrNotConnected))
			Expect(conn.Flush(context.Background())).To(MatchError(client.ErrNotConnected))
			Expect(sub.SetTimeout(time.Second, func() {})).To(MatchError(client.ErrNotConnected))

			Expect(sub.Unsubscribe()).To(Succeed())
			Expect(conn.NumSubscriptions()).To(Equal(0))
			Expect(conn.Close()).To(Succeed())
		})

		It("writes buffered messages before closing", func() {
			other := connect(server, client.Options{})
			defer other.Close()

			received := make(chan struct{}, 100)
			_, err := other.Subscribe("burst", func(*client.Msg, error) {
				received <- struct{}{}
			})
			Expect(err).To(Succeed())
			flush(other)

			for i := 0; i < 100; i++ {
				Expect(conn.Publish("burst", nil)).To(Succeed())
			}
			Expect(conn.Close()).To(Succeed())

			Eventually(func() int { return len(received) }).Should(Equal(100))
		})

		It("fails pending requests when the server goes away", func() {
			errs := make(chan error, 3)

			for i := 0; i < 3; i++ {
				go func() {
					_, err := conn.Request(context.Background(), "nobody.home", nil, 10*time.Second)
					errs <- err
				}()
			}

			Eventually(func() int { return client.PendingRequests(conn) }).Should(Equal(3))

			Expect(server.Close()).To(Succeed())
			server = startBroker(broker.Options{})

			for i := 0; i < 3; i++ {
				Eventually(errs).Should(Receive(MatchError(client.ErrConnectionClosed)))
			}

			Eventually(conn.Closed()).Should(BeClosed())
			Expect(errors.Is(conn.LastError(), client.ErrConnectionLost)).To(BeTrue())
			Expect(client.PendingRequests(conn)).To(Equal(0))
		})
	})
})
