package state

import (
	"sort"
	"sync"
	"time"
)

const defaultTypingTimeout = 3 * time.Second

// TypingTracker tracks which users are currently typing according to
// received signals. Each user carries an expiry timer: a start signal
// (re)arms it, a stop signal or expiry clears the user. The expiry guards
// against a typing:stop lost across a reconnect.
type TypingTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	users   map[int64]string
	timers  map[int64]*time.Timer
}

func NewTypingTracker(timeout time.Duration) *TypingTracker {
	return &TypingTracker{
		timeout: timeout,
		users:   make(map[int64]string),
		timers:  make(map[int64]*time.Timer),
	}
}

// Start marks a user as typing and (re)arms their expiry timer.
func (t *TypingTracker) Start(userID int64, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[userID]; ok {
		timer.Stop()
	}
	t.timers[userID] = time.AfterFunc(t.timeout, func() { t.Stop(userID) })
	t.users[userID] = username
}

// Stop clears a user's typing state and cancels their timer.
func (t *TypingTracker) Stop(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[userID]; ok {
		timer.Stop()
		delete(t.timers, userID)
	}
	delete(t.users, userID)
}

// ClearAll cancels every timer and forgets every user in one sweep.
func (t *TypingTracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID, timer := range t.timers {
		timer.Stop()
		delete(t.timers, userID)
	}
	for userID := range t.users {
		delete(t.users, userID)
	}
}

// Usernames returns the display names of everyone currently typing, in a
// stable order.
func (t *TypingTracker) Usernames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.users))
	for _, name := range t.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
