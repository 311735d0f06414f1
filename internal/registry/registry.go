// Package registry implements the in-memory per-kind table of live
// CRDT documents plus their persistence and transport collaborators,
// with lazy creation and observer teardown.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/thoughtkeep/em-sync/internal/clock"
	"github.com/thoughtkeep/em-sync/internal/crdtdoc"
	"github.com/thoughtkeep/em-sync/internal/docbind"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/transport"
)

// Handle is what Ensure returns: the live document plus the future that
// resolves on its first local-persistence sync.
type Handle struct {
	Doc    *crdtdoc.Document
	Synced <-chan struct{}
}

type entry struct {
	binding *docbind.Binding
}

// Registry is the per-kind document registry. The zero value is not
// usable; use New. Store and TransportFactory may be nil — a test-mode
// configuration where both collaborators are omitted.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	kind      string
	sessionID clock.SessionID
	store     persistence.Store
	transport transport.Factory
	onEvent   func(id string, ev crdtdoc.Event)
	alert     func(id string, message string)
	log       *logrus.Logger
}

// New creates an empty Registry for one entity kind ("thought" or
// "lexeme", used both for logging and for formatting alert messages).
// onEvent, if non-nil, is called for every commit on every document this
// registry ensures — including locally-originated ones; callers filter
// by ev.Origin to tell local writes apart from remote ones. alert, if
// non-nil, is called with id and a human-readable message whenever a
// persistence write for that id's document fails after Ensure returns.
func New(
	kind string,
	sessionID clock.SessionID,
	store persistence.Store,
	transportFactory transport.Factory,
	onEvent func(id string, ev crdtdoc.Event),
	alert func(id string, message string),
	log *logrus.Logger,
) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		kind:      kind,
		sessionID: sessionID,
		store:     store,
		transport: transportFactory,
		onEvent:   onEvent,
		alert:     alert,
		log:       log,
	}
}

// Ensure returns the live Handle for id, creating it (and installing
// persistence, transport, and the change observer) if this is the first
// request for id. Concurrent Ensure calls for the same unseen id each
// build a Document; only one wins the race into the registry and the
// other's collaborators are torn down immediately, so the registry
// invariant "exactly one live CRDT document per id" always holds (spec
// §3 invariants) even under concurrent callers.
func (r *Registry) Ensure(ctx context.Context, id, documentName string) (*Handle, error) {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		r.mu.Unlock()
		return &Handle{Doc: e.binding.Doc, Synced: e.binding.WhenSynced()}, nil
	}
	r.mu.Unlock()

	doc := crdtdoc.NewDocument(documentName, r.sessionID)
	var alert func(string)
	if r.alert != nil {
		alert = func(message string) { r.alert(id, message) }
	}
	binding, err := docbind.Bind(ctx, r.log, doc, documentName, r.store, r.transport, func(ev crdtdoc.Event) {
		if r.onEvent != nil {
			r.onEvent(id, ev)
		}
	}, alert)
	if err != nil {
		doc.Close()
		return nil, fmt.Errorf("registry: ensure %s %q: %w", r.kind, id, err)
	}

	r.mu.Lock()
	if existing, ok := r.entries[id]; ok {
		r.mu.Unlock()
		binding.Close()
		doc.Close()
		return &Handle{Doc: existing.binding.Doc, Synced: existing.binding.WhenSynced()}, nil
	}
	r.entries[id] = &entry{binding: binding}
	r.mu.Unlock()

	return &Handle{Doc: doc, Synced: binding.WhenSynced()}, nil
}

// Get returns the already-registered Handle for id, if any, without
// creating one.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return &Handle{Doc: e.binding.Doc, Synced: e.binding.WhenSynced()}, true
}

// Remove detaches the observer, destroys the document, and removes the
// registry entries for id. It does not delete the backing local
// database: the caller drops that separately, by document name (spec
// §4.4 remove / §3 lifecycle).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := e.binding.Close(); err != nil {
		r.log.WithFields(logrus.Fields{"kind": r.kind, "id": id}).WithError(err).Warn("closing registry entry")
	}
	e.binding.Doc.Close()
}

// IDs returns every id currently registered, in no particular order —
// used by Clear to enumerate what to tear down.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
