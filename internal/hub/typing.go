package hub

import (
	"sync"
	"time"
)

// typingTracker holds the per-connection typing timers. Timer handles live
// in a map with cancel-on-supersede semantics, so teardown is a single
// deterministic sweep. Each active period carries a generation number; a
// timer that fires after its period was superseded stands down instead of
// emitting a stale stop.
type typingTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	active  map[*Conn]*typingState
}

type typingState struct {
	timer *time.Timer
	gen   uint64
}

func newTypingTracker(timeout time.Duration) *typingTracker {
	return &typingTracker{
		timeout: timeout,
		active:  make(map[*Conn]*typingState),
	}
}

// start arms or re-arms the expiry timer for a connection. It reports
// whether this begins a fresh active period, i.e. whether the caller should
// broadcast a typing start.
func (t *typingTracker) start(c *Conn, expire func(gen uint64)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.active[c]; ok {
		st.timer.Stop()
		st.gen++
		gen := st.gen
		st.timer = time.AfterFunc(t.timeout, func() { expire(gen) })
		return false
	}

	st := &typingState{gen: 1}
	gen := st.gen
	st.timer = time.AfterFunc(t.timeout, func() { expire(gen) })
	t.active[c] = st
	return true
}

// stop cancels the active period for a connection, if there is one.
func (t *typingTracker) stop(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.active[c]; ok {
		st.timer.Stop()
		delete(t.active, c)
	}
}

// expire removes the connection's state from the timer callback path. It
// reports whether the firing timer's period was still current; a false
// return means it was superseded or torn down between firing and locking.
func (t *typingTracker) expire(c *Conn, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.active[c]
	if !ok || st.gen != gen {
		return false
	}
	delete(t.active, c)
	return true
}

// forget drops a connection's typing state without any broadcast. Used on
// disconnect, where the synthetic stop is part of the disconnect sweep.
func (t *typingTracker) forget(c *Conn) {
	t.stop(c)
}

// sweep cancels every armed timer.
func (t *typingTracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for c, st := range t.active {
		st.timer.Stop()
		delete(t.active, c)
	}
}
