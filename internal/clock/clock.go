// Package clock provides the origin identity and causal ordering
// primitives shared by every CRDT document in this module: session
// identifiers (who made a change) and logical timestamps (when, relative
// to other changes by the same session).
package clock

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionID identifies the client that originated a transaction. Every
// CRDT document transacts under its own SessionID; observers use it to
// filter out events caused by their own writes.
type SessionID uuid.UUID

// NewSessionID returns a fresh, time-ordered SessionID.
func NewSessionID() SessionID {
	id, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("clock: failed to create SessionID: %v", err))
	}
	return SessionID(id)
}

// Zero is the SessionID used by the implicit root of any document.
var Zero SessionID

// ParseSessionID parses the canonical UUID string form produced by
// String, e.g. when recovering the origin tag carried over the wire by
// a remote transport delta.
func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Zero, fmt.Errorf("clock: parse session id %q: %w", s, err)
	}
	return SessionID(id), nil
}

// String returns the canonical UUID string form.
func (s SessionID) String() string {
	return uuid.UUID(s).String()
}

// Compare returns -1, 0, or 1 as s is less than, equal to, or greater
// than other, byte-lexicographically.
func (s SessionID) Compare(other SessionID) int {
	for i := 0; i < 16; i++ {
		if s[i] != other[i] {
			if s[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// LogicalTimestamp totally orders writes across sessions: first by
// SessionID, then by a per-session monotonic Counter.
type LogicalTimestamp struct {
	SID     SessionID
	Counter uint64
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater
// than other.
func (t LogicalTimestamp) Compare(other LogicalTimestamp) int {
	if c := t.SID.Compare(other.SID); c != 0 {
		return c
	}
	switch {
	case t.Counter < other.Counter:
		return -1
	case t.Counter > other.Counter:
		return 1
	default:
		return 0
	}
}

// Next returns the immediately following timestamp for the same session.
func (t LogicalTimestamp) Next() LogicalTimestamp {
	return LogicalTimestamp{SID: t.SID, Counter: t.Counter + 1}
}

func (t LogicalTimestamp) String() string {
	return fmt.Sprintf("%s:%d", t.SID.String(), t.Counter)
}

// Source is a per-session monotonic counter, handing out the
// LogicalTimestamps a single document transacts under.
type Source struct {
	sid     SessionID
	counter uint64
}

// NewSource returns a timestamp source rooted at sid.
func NewSource(sid SessionID) *Source {
	return &Source{sid: sid}
}

// SessionID returns the session this source mints timestamps for.
func (s *Source) SessionID() SessionID {
	return s.sid
}

// Next mints and returns the next LogicalTimestamp from this source.
func (s *Source) Next() LogicalTimestamp {
	s.counter++
	return LogicalTimestamp{SID: s.sid, Counter: s.counter}
}
