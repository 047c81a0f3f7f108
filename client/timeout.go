package client

import (
	"sync"
	"time"
)

// timeouts keeps at most one armed timer per sid. All methods other than the
// timer callbacks themselves must be called with mu held.
type timeouts struct {
	mu     *sync.Mutex
	timers map[uint64]*time.Timer
}

func newTimeouts(mu *sync.Mutex) *timeouts {
	return &timeouts{
		mu:     mu,
		timers: make(map[uint64]*time.Timer),
	}
}

// set arms a timer for sid, replacing any existing one. onFire is called at
// most once, without the lock held, unless the timer is cancelled or
// replaced first. A zero duration fires as soon as the lock is released.
func (t *timeouts) set(sid uint64, d time.Duration, onFire func()) {
	t.cancel(sid)

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timers[sid] != timer {
			// cancelled or replaced while we were waiting for the lock
			t.mu.Unlock()
			return
		}
		delete(t.timers, sid)
		t.mu.Unlock()

		onFire()
	})

	t.timers[sid] = timer
}

func (t *timeouts) cancel(sid uint64) {
	if timer, ok := t.timers[sid]; ok {
		timer.Stop()
		delete(t.timers, sid)
	}
}

func (t *timeouts) has(sid uint64) bool {
	_, ok := t.timers[sid]
	return ok
}

func (t *timeouts) stopAll() {
	for sid := range t.timers {
		t.cancel(sid)
	}
}
