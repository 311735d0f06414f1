// Package crdtdoc is the underlying CRDT document library the
// replication core is built on: the two node shapes (Map, Log) a
// thought/lexeme document needs, plus the origin-tagged-transaction and
// post-commit-observer contract every higher-level component is written
// against.
package crdtdoc

import (
	"sync"

	"github.com/thoughtkeep/em-sync/internal/clock"
)

// Event is delivered to observers after a transaction commits.
type Event struct {
	// Origin is the SessionID the committing transaction ran under.
	Origin clock.SessionID
	Doc    *Document
}

// Observer is called for every transaction committed on a Document,
// including ones originated by the Document's own session — callers
// that only care about remote changes must filter on Event.Origin
// themselves.
type Observer func(Event)

// Tx is the mutation handle passed to a Transact callback.
type Tx struct {
	doc *Document
}

// Root returns the document's root map.
func (t *Tx) Root() *Map { return t.doc.root }

// NextTS mints the next LogicalTimestamp for this document's session.
func (t *Tx) NextTS() clock.LogicalTimestamp { return t.doc.source.Next() }

// Document is a single CRDT document: a root Map (or, for the doclog, a
// root Map whose fields are *Log nodes) plus the machinery to transact
// against it under a named origin and to notify observers afterward.
type Document struct {
	name   string
	source *clock.Source
	root   *Map

	mu sync.Mutex

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObsID int

	afterMu sync.Mutex
	after   []func()

	dispatchCh chan Event
	closeOnce  sync.Once
	closeCh    chan struct{}
}

// NewDocument creates an empty document named name, transacting locally
// under sid.
func NewDocument(name string, sid clock.SessionID) *Document {
	source := clock.NewSource(sid)
	d := &Document{
		name:       name,
		source:     source,
		root:       NewMap(clock.LogicalTimestamp{}),
		observers:  make(map[int]Observer),
		dispatchCh: make(chan Event, 64),
		closeCh:    make(chan struct{}),
	}
	go d.dispatchLoop()
	return d
}

// Name returns the document name this instance was opened under.
func (d *Document) Name() string { return d.name }

// SessionID returns the session this document instance transacts under.
func (d *Document) SessionID() clock.SessionID { return d.source.SessionID() }

// Root returns the document's root map. Reads outside of a Transact are
// safe for the single-threaded-executor model this module assumes;
// concurrent callers should go through Transact.
func (d *Document) Root() *Map { return d.root }

// OnceAfterTransaction registers fn to run exactly once, synchronously,
// right after the next transaction commits — before observers are
// notified. Must be registered before the transaction begins; it is how
// UpdateThoughts resolves its returned future on in-memory commit
// rather than on persistence flush.
func (d *Document) OnceAfterTransaction(fn func()) {
	d.afterMu.Lock()
	d.after = append(d.after, fn)
	d.afterMu.Unlock()
}

// Transact runs fn against the document under origin, then synchronously
// drains any OnceAfterTransaction callbacks, then asynchronously (on a
// later tick, per §4.8 step 3 / §9 "deferred dispatch") notifies
// observers of the commit.
func (d *Document) Transact(origin clock.SessionID, fn func(*Tx)) {
	d.mu.Lock()
	fn(&Tx{doc: d})
	d.mu.Unlock()

	d.afterMu.Lock()
	pending := d.after
	d.after = nil
	d.afterMu.Unlock()
	for _, cb := range pending {
		cb()
	}

	select {
	case d.dispatchCh <- Event{Origin: origin, Doc: d}:
	case <-d.closeCh:
	}
}

// ApplyRemoteSnapshot merges a full-state snapshot (as produced by
// Root().Snapshot(), typically decoded off a persistence or transport
// collaborator) into the document under origin, minting a fresh
// LogicalTimestamp for the merge. Nested maps are merged key-by-key
// rather than replacing the field wholesale, so concurrent inserts
// under different keys survive even whole-state remote sync. A key
// present locally but absent from snapshot is deleted under the same
// fresh timestamp, so a remote removal (a child dropped from a
// childrenMap, a context dropped from a lexeme) propagates on the next
// full-state sync instead of being silently re-added by every later
// merge. This CRDT still carries no separate tombstone type: the
// deletion is just Map.Delete under the merge's timestamp, same as any
// other LWW write.
func (d *Document) ApplyRemoteSnapshot(origin clock.SessionID, snapshot map[string]interface{}) {
	d.mu.Lock()
	ts := d.source.Next()
	mergeSnapshotInto(d.root, ts, snapshot)
	d.mu.Unlock()

	select {
	case d.dispatchCh <- Event{Origin: origin, Doc: d}:
	case <-d.closeCh:
	}
}

func mergeSnapshotInto(m *Map, ts clock.LogicalTimestamp, snapshot map[string]interface{}) {
	for key, value := range snapshot {
		if nested, ok := value.(map[string]interface{}); ok {
			mergeSnapshotInto(m.GetMap(key, ts), ts, nested)
			continue
		}
		m.Set(key, ts, value)
	}
	for _, key := range m.Keys() {
		if _, present := snapshot[key]; !present {
			m.Delete(key, ts)
		}
	}
}

// Observe registers obs to run for every future commit. The returned
// func unregisters it; an observer must be unregistered before the
// document it closes over is destroyed.
func (d *Document) Observe(obs Observer) (unregister func()) {
	d.obsMu.Lock()
	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = obs
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

// dispatchLoop is the document's "post to self" tick: it runs on its own
// goroutine so that observer callbacks never nest inside the goroutine
// that called Transact, matching the deferred-dispatch design note.
func (d *Document) dispatchLoop() {
	for {
		select {
		case ev := <-d.dispatchCh:
			d.obsMu.Lock()
			obs := make([]Observer, 0, len(d.observers))
			for _, o := range d.observers {
				obs = append(obs, o)
			}
			d.obsMu.Unlock()
			for _, o := range obs {
				o(ev)
			}
		case <-d.closeCh:
			return
		}
	}
}

// Close stops the document's dispatch loop. Safe to call more than once.
func (d *Document) Close() {
	d.closeOnce.Do(func() {
		close(d.closeCh)
	})
}
