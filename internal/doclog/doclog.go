// Package doclog implements the doclog singleton: one process-wide CRDT
// document holding two append-only arrays,
// thought_log and lexeme_log, each a sequence of (id, Action) pairs. It
// has its own local persistence and remote transport, wired directly
// (not through internal/docbind) since its wire shape — two growing
// arrays, not a field map — needs suffix-append merge rather than
// key-by-key map merge.
package doclog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/thoughtkeep/em-sync/internal/clock"
	"github.com/thoughtkeep/em-sync/internal/crdtdoc"
	"github.com/thoughtkeep/em-sync/internal/entity"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/transport"
)

// Kind names one of the doclog's two arrays; it doubles as the field
// key on the document's root map.
type Kind string

const (
	Thought Kind = "thought_log"
	Lexeme  Kind = "lexeme_log"
)

// Entry is one (id, action) pair appended to a doclog array.
type Entry struct {
	ID     string
	Action entity.Action
}

type wireEntry struct {
	ID     string `json:"id"`
	Action int    `json:"action"`
}

type wireSnapshot struct {
	ThoughtLog []wireEntry `json:"thought_log"`
	LexemeLog  []wireEntry `json:"lexeme_log"`
}

// DocLog is the singleton append-only change stream. The zero value is
// not usable; use New.
type DocLog struct {
	doc          *crdtdoc.Document
	log          *logrus.Logger
	documentName string

	persistence persistence.Provider
	transport   transport.Transport

	mu          sync.Mutex
	thoughtSeen int
	lexemeSeen  int

	// OnThoughtEntries and OnLexemeEntries are invoked, newest-first and
	// deduped by id, with every entry a remote insertion added to the
	// corresponding array. Set these before calling Start; they are never
	// invoked for local appends or for hydration from local persistence.
	OnThoughtEntries func([]Entry)
	OnLexemeEntries  func([]Entry)

	// Alert, if set before Start, is called with a human-readable
	// message whenever a persistence write fails.
	Alert func(string)

	unregister func()
	// hydrated closes once the initial hydration attempt has actually
	// been applied to doc (or determined there was nothing to apply) —
	// distinct from persistence.WhenSynced, which only means the I/O
	// layer finished its own load.
	hydrated chan struct{}
}

// New creates a DocLog for documentName ("<workspace>/doclog"),
// transacting locally under sid.
func New(documentName string, sid clock.SessionID, log *logrus.Logger) *DocLog {
	return &DocLog{
		doc:          crdtdoc.NewDocument(documentName, sid),
		log:          log,
		documentName: documentName,
		hydrated:     make(chan struct{}),
	}
}

// SessionID returns the session this doclog's own appends transact
// under — the id observers compare against to recognize a local write.
func (d *DocLog) SessionID() clock.SessionID { return d.doc.SessionID() }

// Start opens persistence/transport (either may be nil in test-mode
// configuration), hydrates prior history, and begins pumping remote
// deltas. Call after setting OnThoughtEntries/OnLexemeEntries.
func (d *DocLog) Start(ctx context.Context, store persistence.Store, transportFactory transport.Factory) error {
	d.unregister = d.doc.Observe(func(ev crdtdoc.Event) {
		d.handleCommit(ctx, ev)
	})

	if store != nil {
		p, err := store.Open(ctx, d.documentName)
		if err != nil {
			return fmt.Errorf("doclog: open persistence: %w", err)
		}
		d.persistence = p
		go d.hydrate()
	} else {
		close(d.hydrated)
	}

	if transportFactory != nil {
		tr, err := transportFactory(ctx, d.documentName, d.doc.SessionID().String())
		if err != nil {
			if d.persistence != nil {
				d.persistence.Close()
			}
			return fmt.Errorf("doclog: open transport: %w", err)
		}
		d.transport = tr
		go d.pumpRemote(ctx)
	}

	return nil
}

// WhenSynced resolves once the initial hydration attempt has been
// applied to the document.
func (d *DocLog) WhenSynced() <-chan struct{} {
	return d.hydrated
}

// Append adds a single (id, action) entry to kind's array, eliding the
// append if it would structurally equal the array's current tail (spec
// §3 invariants).
func (d *DocLog) Append(kind Kind, id string, action entity.Action) {
	d.AppendBatch(kind, []Entry{{ID: id, Action: action}})
}

// AppendBatch appends entries to kind's array inside a single
// transaction, eliding only the first entry if it structurally equals
// the array's current tail, so a batch that starts by re-describing the
// last-known entry doesn't duplicate it.
func (d *DocLog) AppendBatch(kind Kind, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	d.doc.Transact(d.doc.SessionID(), func(tx *crdtdoc.Tx) {
		log := tx.Root().GetLog(string(kind), tx.NextTS())
		start := 0
		if tail, ok := log.Tail(); ok {
			if tailEntry, ok2 := tail.Value.(Entry); ok2 && tailEntry == entries[0] {
				start = 1
			}
		}
		for _, e := range entries[start:] {
			log.Append(tx.NextTS(), e)
		}
	})
}

// Tail returns the current tail entry of kind's array, if any — used by
// callers that need to compute the same head-equals-tail comparison
// AppendBatch performs, before building the batch.
func (d *DocLog) Tail(kind Kind) (Entry, bool) {
	v, ok := d.doc.Root().Get(string(kind))
	if !ok {
		return Entry{}, false
	}
	lg, ok := v.(*crdtdoc.Log)
	if !ok {
		return Entry{}, false
	}
	tail, ok := lg.Tail()
	if !ok {
		return Entry{}, false
	}
	entry, ok := tail.Value.(Entry)
	return entry, ok
}

func (d *DocLog) handleCommit(ctx context.Context, ev crdtdoc.Event) {
	root := d.doc.Root()
	thoughtLen := currentLen(root, string(Thought))
	lexemeLen := currentLen(root, string(Lexeme))

	d.mu.Lock()
	prevThought, prevLexeme := d.thoughtSeen, d.lexemeSeen
	d.thoughtSeen, d.lexemeSeen = thoughtLen, lexemeLen
	d.mu.Unlock()

	if d.persistence != nil {
		if err := d.persistence.Save(ctx, d.buildSnapshot()); err != nil {
			d.log.WithFields(logrus.Fields{"doc": d.documentName}).WithError(err).Warn("doclog persistence save failed")
			if d.Alert != nil {
				d.Alert(fmt.Sprintf("Error saving doclog: %v", err))
			}
		}
	}

	if ev.Origin == d.doc.SessionID() {
		if d.transport != nil {
			if err := d.publish(ctx); err != nil {
				d.log.WithFields(logrus.Fields{"doc": d.documentName}).WithError(err).Warn("doclog transport publish failed")
			}
		}
		return
	}

	if thoughtLen > prevThought && d.OnThoughtEntries != nil {
		d.OnThoughtEntries(dedupeNewestFirst(extractEntries(root, string(Thought), prevThought)))
	}
	if lexemeLen > prevLexeme && d.OnLexemeEntries != nil {
		d.OnLexemeEntries(dedupeNewestFirst(extractEntries(root, string(Lexeme), prevLexeme)))
	}
}

func (d *DocLog) hydrate() {
	defer close(d.hydrated)

	<-d.persistence.WhenSynced()
	snapshot := d.persistence.Snapshot()
	if snapshot == nil {
		return
	}
	wire, err := decodeWireSnapshot(snapshot)
	if err != nil {
		d.log.WithFields(logrus.Fields{"doc": d.documentName}).WithError(err).Warn("doclog: dropping unreadable persisted snapshot")
		if d.Alert != nil {
			d.Alert(fmt.Sprintf("Error loading doclog: %v", err))
		}
		return
	}
	// Hydration is not a remote insertion: apply it under the doclog's
	// own session so handleCommit takes the local branch and no
	// replication tasks are re-emitted for history already reflected in
	// the application state.
	d.applyWire(d.doc.SessionID(), wire)
}

func (d *DocLog) pumpRemote(ctx context.Context) {
	for {
		delta, err := d.transport.Next(ctx)
		if err != nil {
			return // transport closed or ctx canceled
		}
		origin, err := clock.ParseSessionID(delta.Origin)
		if err != nil {
			d.log.WithFields(logrus.Fields{"doc": d.documentName}).WithError(err).Warn("doclog: dropping delta with unparseable origin")
			continue
		}
		var wire wireSnapshot
		if err := json.Unmarshal(delta.Data, &wire); err != nil {
			d.log.WithFields(logrus.Fields{"doc": d.documentName}).WithError(err).Warn("doclog: dropping undecodable delta")
			continue
		}
		d.applyWire(origin, wire)
	}
}

// applyWire merges a full-array wire snapshot into the document: each
// array only grows by appending whatever suffix the wire form carries
// beyond what is already present locally. This trimmed CRDT stand-in
// assumes the longer array is always a superset of the shorter one
// (true for a single append-only history replicated through one
// doclog), so it never reconciles divergent branches — a documented
// scope limit, not a general CRDT array merge.
func (d *DocLog) applyWire(origin clock.SessionID, wire wireSnapshot) {
	d.doc.Transact(origin, func(tx *crdtdoc.Tx) {
		appendWireSuffix(tx, string(Thought), wire.ThoughtLog)
		appendWireSuffix(tx, string(Lexeme), wire.LexemeLog)
	})
}

func appendWireSuffix(tx *crdtdoc.Tx, key string, entries []wireEntry) {
	log := tx.Root().GetLog(key, tx.NextTS())
	current := log.Len()
	if len(entries) <= current {
		return
	}
	for _, we := range entries[current:] {
		log.Append(tx.NextTS(), Entry{ID: we.ID, Action: entity.Action(we.Action)})
	}
}

func (d *DocLog) publish(ctx context.Context) error {
	data, err := json.Marshal(d.buildSnapshot())
	if err != nil {
		return fmt.Errorf("doclog: encode snapshot: %w", err)
	}
	return d.transport.Publish(ctx, transport.Delta{Origin: d.doc.SessionID().String(), Data: data})
}

func (d *DocLog) buildSnapshot() map[string]interface{} {
	root := d.doc.Root()
	return map[string]interface{}{
		string(Thought): encodeEntries(root, string(Thought)),
		string(Lexeme):  encodeEntries(root, string(Lexeme)),
	}
}

func encodeEntries(root *crdtdoc.Map, key string) []wireEntry {
	v, ok := root.Get(key)
	if !ok {
		return nil
	}
	lg, ok := v.(*crdtdoc.Log)
	if !ok {
		return nil
	}
	raw := lg.Entries()
	out := make([]wireEntry, len(raw))
	for i, e := range raw {
		entry, _ := e.Value.(Entry)
		out[i] = wireEntry{ID: entry.ID, Action: int(entry.Action)}
	}
	return out
}

func decodeWireSnapshot(snapshot map[string]interface{}) (wireSnapshot, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return wireSnapshot{}, fmt.Errorf("re-encode persisted snapshot: %w", err)
	}
	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return wireSnapshot{}, fmt.Errorf("decode persisted snapshot: %w", err)
	}
	return wire, nil
}

func currentLen(root *crdtdoc.Map, key string) int {
	v, ok := root.Get(key)
	if !ok {
		return 0
	}
	lg, ok := v.(*crdtdoc.Log)
	if !ok {
		return 0
	}
	return lg.Len()
}

func extractEntries(root *crdtdoc.Map, key string, from int) []Entry {
	v, ok := root.Get(key)
	if !ok {
		return nil
	}
	lg, ok := v.(*crdtdoc.Log)
	if !ok {
		return nil
	}
	raw := lg.Slice(from)
	out := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if entry, ok := e.Value.(Entry); ok {
			out = append(out, entry)
		}
	}
	return out
}

// dedupeNewestFirst walks entries in reverse with a seen-set, so the
// result comes back newest-first with only the newest action per id
// surviving.
func dedupeNewestFirst(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Close unregisters the observer, closes the bound collaborators, and
// stops the underlying document's dispatch loop.
func (d *DocLog) Close() error {
	if d.unregister != nil {
		d.unregister()
	}
	var errs []error
	if d.persistence != nil {
		if err := d.persistence.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.doc.Close()
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("doclog: close %v", errs)
}
