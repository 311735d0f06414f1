// Package enginetest provides a recording Dispatcher double used across
// this module's package tests.
package enginetest

import (
	"sync"

	"github.com/thoughtkeep/em-sync/internal/dispatch"
)

// SpyDispatcher records every Dispatch/Alert call it receives, safe for
// concurrent use by the background goroutines that call into it (every
// document's dispatch loop and the taskqueue's worker pool).
type SpyDispatcher struct {
	mu      sync.Mutex
	updates []dispatch.StateUpdate
	alerts  []string
}

func (s *SpyDispatcher) Dispatch(update dispatch.StateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
}

func (s *SpyDispatcher) Alert(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, message)
}

// Updates returns a snapshot of every StateUpdate recorded so far.
func (s *SpyDispatcher) Updates() []dispatch.StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dispatch.StateUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}

// Alerts returns a snapshot of every Alert message recorded so far.
func (s *SpyDispatcher) Alerts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Len returns the number of Dispatch calls recorded so far.
func (s *SpyDispatcher) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}
