package drain

import (
	"sort"
	"sync"
)

// Tracker remembers instances already selected for migration during a drain.
// The set only grows for the lifetime of the process.
type Tracker struct {
	mu        sync.RWMutex
	attempted map[string]struct{}
}

// NewTracker creates a tracker pre-seeded with ids that must never be moved
func NewTracker(excluded ...string) *Tracker {
	t := &Tracker{attempted: make(map[string]struct{}, len(excluded))}
	for _, id := range excluded {
		t.attempted[id] = struct{}{}
	}
	return t
}

// WasAttempted reports whether id has been selected before
func (t *Tracker) WasAttempted(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.attempted[id]
	return ok
}

// MarkAttempted records id. Marking twice is a no-op.
func (t *Tracker) MarkAttempted(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempted[id] = struct{}{}
}

// Attempted returns the recorded ids in sorted order
func (t *Tracker) Attempted() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.attempted))
	for id := range t.attempted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of recorded ids
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.attempted)
}
