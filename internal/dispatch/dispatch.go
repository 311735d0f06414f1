// Package dispatch defines the Dispatcher contract this module consumes
// to push state updates and alerts to the host application's reducer,
// without this module depending on the reducer's own types.
package dispatch

import "github.com/thoughtkeep/em-sync/internal/entity"

// StateUpdate is the payload of an update_thoughts_action dispatch. A
// nil value in either index map means the entity was removed; the
// doclog observer dispatches such removals with RepairCursor set and
// both Local and Remote false.
type StateUpdate struct {
	ThoughtIndexUpdates map[entity.ThoughtID]*entity.Thought
	LexemeIndexUpdates  map[entity.LexemeKey]*entity.Lexeme

	Local        bool
	Remote       bool
	RepairCursor bool
}

// Dispatcher is the consumed reducer surface. Implementations must not
// block the caller for long — entity observers and the doclog observer
// both call Dispatch from a deferred tick, never from inside a CRDT
// transaction.
type Dispatcher interface {
	Dispatch(update StateUpdate)
	Alert(message string)
}

// NoopDispatcher discards everything. Useful for test-mode configuration
// (no persistence or transport wired) and for standalone runs of
// cmd/replicored that don't wire a real reducer.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(StateUpdate) {}
func (NoopDispatcher) Alert(string)         {}
