package crawler

import "sync"

// VisitedSet records every username already scheduled during a run.
type VisitedSet struct {
	mu   sync.Mutex
	seen map[Username]struct{}
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{seen: make(map[Username]struct{})}
}

// TestAndAdd marks username as seen and returns true only on its first
// occurrence.
func (v *VisitedSet) TestAndAdd(username Username) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[username]; ok {
		return false
	}
	v.seen[username] = struct{}{}
	return true
}

// Contains reports whether username has been seen.
func (v *VisitedSet) Contains(username Username) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.seen[username]
	return ok
}

// Len returns the number of distinct usernames seen.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
