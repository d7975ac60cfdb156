package ledger

import "sync"

// Locks serializes sync runs per space key. Only one sync may write a
// space's ledger rows and index namespace at a time; a second attempt is
// rejected rather than queued.
type Locks struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{active: make(map[string]bool)}
}

// TryAcquire claims the lock for a space key. It returns a release func and
// true on success, or nil and false when a sync for the space is already
// running.
func (l *Locks) TryAcquire(spaceKey string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[spaceKey] {
		return nil, false
	}
	l.active[spaceKey] = true
	return func() {
		l.mu.Lock()
		delete(l.active, spaceKey)
		l.mu.Unlock()
	}, true
}
