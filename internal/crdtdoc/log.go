package crdtdoc

import "github.com/thoughtkeep/em-sync/internal/clock"

// LogEntry is one append-only record in a Log.
type LogEntry struct {
	ID    clock.LogicalTimestamp
	Value interface{}
}

// Log is an append-only CRDT sequence: entries are inserted at the tail
// and never reordered or removed. It backs the doclog's thought_log and
// lexeme_log arrays, where history itself is the payload. Trimmed to
// insert-at-tail only, since nothing here ever inserts into the middle
// of a log or tombstones an entry.
type Log struct {
	id      clock.LogicalTimestamp
	entries []LogEntry
}

// NewLog creates an empty log node identified by id.
func NewLog(id clock.LogicalTimestamp) *Log {
	return &Log{id: id}
}

// ID returns the node's identity timestamp.
func (l *Log) ID() clock.LogicalTimestamp { return l.id }

// Append adds value to the tail of the log under ts.
func (l *Log) Append(ts clock.LogicalTimestamp, value interface{}) {
	l.entries = append(l.entries, LogEntry{ID: ts, Value: value})
}

// Len reports the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Tail returns the most recently appended entry, if any.
func (l *Log) Tail() (LogEntry, bool) {
	if len(l.entries) == 0 {
		return LogEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Entries returns every entry in insertion (oldest-first) order. The
// returned slice is owned by the caller.
func (l *Log) Entries() []LogEntry {
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Slice returns entries starting at index from, oldest-first.
func (l *Log) Slice(from int) []LogEntry {
	if from < 0 {
		from = 0
	}
	if from >= len(l.entries) {
		return nil
	}
	out := make([]LogEntry, len(l.entries)-from)
	copy(out, l.entries[from:])
	return out
}
