package broker

import (
	"math/rand"
	"sync"

	"github.com/luma/courier/subject"
)

type subscription struct {
	conn    *clientConn
	sid     uint64
	subject string
	queue   string

	// max is zero for unlimited
	max       int
	delivered int
}

type delivery struct {
	conn *clientConn
	sid  uint64
}

// router tracks every subscription on the server and decides which of them
// receive a published message.
type router struct {
	mu    sync.Mutex
	subs  map[*clientConn]map[uint64]*subscription
	count int
}

func newRouter() *router {
	return &router{subs: make(map[*clientConn]map[uint64]*subscription)}
}

// add registers sub, replacing any existing subscription with the same sid on
// the same connection.
func (r *router) add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySID, ok := r.subs[sub.conn]
	if !ok {
		bySID = make(map[uint64]*subscription)
		r.subs[sub.conn] = bySID
	}

	if _, exists := bySID[sub.sid]; !exists {
		r.count++
	}

	bySID[sub.sid] = sub
}

func (r *router) remove(conn *clientConn, sid uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(conn, sid)
}

func (r *router) removeLocked(conn *clientConn, sid uint64) bool {
	bySID, ok := r.subs[conn]
	if !ok {
		return false
	}

	if _, ok := bySID[sid]; !ok {
		return false
	}

	delete(bySID, sid)
	r.count--

	if len(bySID) == 0 {
		delete(r.subs, conn)
	}

	return true
}

// setMax caps a subscription at max deliveries in total. A subscription that
// has already reached max is removed immediately.
func (r *router) setMax(conn *clientConn, sid uint64, max int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[conn][sid]
	if !ok {
		return
	}

	if sub.delivered >= max {
		r.removeLocked(conn, sid)
		return
	}

	sub.max = max
}

// removeConn drops every subscription belonging to conn and returns how many
// were removed.
func (r *router) removeConn(conn *clientConn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.subs[conn])
	delete(r.subs, conn)
	r.count -= n

	return n
}

// route picks the subscriptions that receive a message published to subj.
// Every plain subscription matches, each queue group receives it once.
// Subscriptions that reach their max are removed.
func (r *router) route(subj string, origin *clientConn, echo bool) []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		matched []*subscription
		groups  map[string][]*subscription
	)

	for conn, bySID := range r.subs {
		if conn == origin && !echo {
			continue
		}

		for _, sub := range bySID {
			if !subject.Matches(sub.subject, subj) {
				continue
			}

			if sub.queue == "" {
				matched = append(matched, sub)
				continue
			}

			if groups == nil {
				groups = make(map[string][]*subscription)
			}
			groups[sub.queue] = append(groups[sub.queue], sub)
		}
	}

	for _, members := range groups {
		matched = append(matched, members[rand.Intn(len(members))])
	}

	deliveries := make([]delivery, 0, len(matched))

	for _, sub := range matched {
		sub.delivered++
		deliveries = append(deliveries, delivery{conn: sub.conn, sid: sub.sid})

		if sub.max > 0 && sub.delivered >= sub.max {
			r.removeLocked(sub.conn, sub.sid)
		}
	}

	return deliveries
}

func (r *router) countFor(conn *clientConn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.subs[conn])
}

func (r *router) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.count
}
