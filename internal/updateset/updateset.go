// Package updateset implements the per-key push-pending tracker behind
// the is_pushing flag. The replicator enqueues a document name when it
// starts a local write or delete and dequeues it once that write has
// landed. The set only records which names are pending; it does not
// decide when writes are flushed and does not merge several writes into
// one.
package updateset

import "sync"

// Set tracks which document names have a pending write and flips an
// is_pushing flag only on empty-transition edges: false->true the first
// time a key is enqueued while the set is empty, true->false when the
// last key drains. Callers that want to react to that flag's value
// changing (e.g. to drive a UI indicator) pass OnChange.
type Set struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	pushing  bool
	onChange func(pushing bool)
}

// New returns an empty Set. onChange may be nil.
func New(onChange func(pushing bool)) *Set {
	return &Set{
		pending:  make(map[string]struct{}),
		onChange: onChange,
	}
}

// Enqueue marks name as having a pending write. It is idempotent: adding
// the same name twice before it's dequeued has no additional effect.
func (s *Set) Enqueue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasEmpty := len(s.pending) == 0
	s.pending[name] = struct{}{}
	if wasEmpty && !s.pushing {
		s.pushing = true
		s.notify()
	}
}

// Dequeue clears name's pending write. If this drains the set to empty,
// is_pushing flips back to false.
func (s *Set) Dequeue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, name)
	if len(s.pending) == 0 && s.pushing {
		s.pushing = false
		s.notify()
	}
}

// notify must be called with s.mu held.
func (s *Set) notify() {
	if s.onChange != nil {
		s.onChange(s.pushing)
	}
}

// IsPushing reports whether any key currently has a pending write.
func (s *Set) IsPushing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushing
}

// Pending reports whether name currently has a pending write.
func (s *Set) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[name]
	return ok
}

// Len returns the number of keys with a pending write.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
