// Package replicator implements the public surface that coordinates the
// entity registries, codec, and doclog into replicate/get/update/
// delete/clear operations.
package replicator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/thoughtkeep/em-sync/internal/clock"
	"github.com/thoughtkeep/em-sync/internal/codec"
	"github.com/thoughtkeep/em-sync/internal/crdtdoc"
	"github.com/thoughtkeep/em-sync/internal/dispatch"
	"github.com/thoughtkeep/em-sync/internal/docname"
	"github.com/thoughtkeep/em-sync/internal/doclog"
	"github.com/thoughtkeep/em-sync/internal/entity"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/registry"
	"github.com/thoughtkeep/em-sync/internal/taskqueue"
	"github.com/thoughtkeep/em-sync/internal/updateset"
)

// Replicator is the process-wide replication coordinator. The zero
// value is not usable; use New, then Attach before any operation.
type Replicator struct {
	workspace string
	sessionID clock.SessionID

	thoughts *registry.Registry
	lexemes  *registry.Registry
	docLog   *doclog.DocLog

	updates *updateset.Set
	queue   *taskqueue.Queue

	thoughtStore persistence.Store // used only for delete-by-name; may be nil
	lexemeStore  persistence.Store

	dispatcher dispatch.Dispatcher
	log        *logrus.Logger

	presenceMu      sync.Mutex
	presentThoughts map[entity.ThoughtID]struct{}
	presentLexemes  map[entity.LexemeKey]struct{}

	rootMu    sync.Mutex
	rootReady chan struct{}
	rootValue entity.Thought
	rootDone  bool
}

// New constructs a Replicator. Call Attach once the registries and
// doclog it coordinates exist, wiring their callbacks to the methods
// this Replicator exposes for exactly that purpose (OnThoughtEvent,
// OnLexemeEvent, OnThoughtLogEntries, OnLexemeLogEntries).
func New(
	workspace string,
	sessionID clock.SessionID,
	queue *taskqueue.Queue,
	updates *updateset.Set,
	thoughtStore persistence.Store,
	lexemeStore persistence.Store,
	dispatcher dispatch.Dispatcher,
	log *logrus.Logger,
) *Replicator {
	return &Replicator{
		workspace:       workspace,
		sessionID:       sessionID,
		queue:           queue,
		updates:         updates,
		thoughtStore:    thoughtStore,
		lexemeStore:     lexemeStore,
		dispatcher:      dispatcher,
		log:             log,
		presentThoughts: make(map[entity.ThoughtID]struct{}),
		presentLexemes:  make(map[entity.LexemeKey]struct{}),
		rootReady:       make(chan struct{}),
	}
}

// Attach wires the registries and doclog this Replicator coordinates.
// Must be called exactly once, before any other method.
func (r *Replicator) Attach(thoughts, lexemes *registry.Registry, docLog *doclog.DocLog) {
	r.thoughts = thoughts
	r.lexemes = lexemes
	r.docLog = docLog
}

// OnThoughtEvent is the onEvent callback for the thought registry (spec
// §4.8). A local-origin event means this replicator's own write just
// landed in memory: the UpdateSet entry for it is dequeued here, as a
// stand-in for "on local-persistence sync completion" (this module's
// trimmed persistence layer saves synchronously inside the same
// post-commit tick, so the two are observationally identical). A
// remote-origin event runs the entity change observer algorithm.
func (r *Replicator) OnThoughtEvent(id string, ev crdtdoc.Event) {
	name := docname.Thought(r.workspace, id)
	if ev.Origin == r.sessionID {
		r.updates.Dequeue(name)
		return
	}
	r.handleRemoteThoughtChange(entity.ThoughtID(id), ev)
}

// OnLexemeEvent is the symmetric callback for the lexeme registry.
func (r *Replicator) OnLexemeEvent(id string, ev crdtdoc.Event) {
	name := docname.Lexeme(r.workspace, id)
	if ev.Origin == r.sessionID {
		r.updates.Dequeue(name)
		return
	}
	r.handleRemoteLexemeChange(entity.LexemeKey(id), ev)
}

func (r *Replicator) handleRemoteThoughtChange(id entity.ThoughtID, ev crdtdoc.Event) {
	want := docname.Thought(r.workspace, string(id))
	if ev.Doc.Name() != want {
		panic(fmt.Sprintf("replicator: observer invariant violation: doc %q fired for thought %q", ev.Doc.Name(), id))
	}
	thought, ok := codec.CRDTToThought(ev.Doc)
	if !ok {
		return
	}
	if !r.isThoughtPresent(id) && !r.isThoughtPresent(thought.ParentID) {
		return
	}
	r.dispatcher.Dispatch(dispatch.StateUpdate{
		ThoughtIndexUpdates: map[entity.ThoughtID]*entity.Thought{id: &thought},
		RepairCursor:        true,
	})
	r.markThoughtPresent(id)
}

func (r *Replicator) handleRemoteLexemeChange(key entity.LexemeKey, ev crdtdoc.Event) {
	want := docname.Lexeme(r.workspace, string(key))
	if ev.Doc.Name() != want {
		panic(fmt.Sprintf("replicator: observer invariant violation: doc %q fired for lexeme %q", ev.Doc.Name(), key))
	}
	lex, ok := codec.CRDTToLexeme(ev.Doc)
	if !ok {
		return
	}
	present := r.isLexemePresent(key)
	if !present {
		for _, ctxID := range lex.Contexts {
			if r.isThoughtPresent(ctxID) {
				present = true
				break
			}
		}
	}
	if !present {
		return
	}
	r.dispatcher.Dispatch(dispatch.StateUpdate{
		LexemeIndexUpdates: map[entity.LexemeKey]*entity.Lexeme{key: &lex},
		RepairCursor:       true,
	})
	r.markLexemePresent(key)
}

// OnThoughtLogEntries is the doclog callback for remote thought_log
// insertions: an Update entry becomes a replicate_thought task, a
// Delete entry becomes a dispatch-null + delete_thought task.
func (r *Replicator) OnThoughtLogEntries(entries []doclog.Entry) {
	r.submitLogTasks(entries,
		func(ctx context.Context, id string) { r.ReplicateThought(ctx, entity.ThoughtID(id)) },
		func(ctx context.Context, id string) {
			r.dispatcher.Dispatch(dispatch.StateUpdate{
				ThoughtIndexUpdates: map[entity.ThoughtID]*entity.Thought{entity.ThoughtID(id): nil},
				RepairCursor:        true,
			})
			r.DeleteThought(ctx, entity.ThoughtID(id))
		})
}

// OnLexemeLogEntries is the symmetric doclog callback for lexeme_log.
func (r *Replicator) OnLexemeLogEntries(entries []doclog.Entry) {
	r.submitLogTasks(entries,
		func(ctx context.Context, id string) { r.ReplicateLexeme(ctx, entity.LexemeKey(id)) },
		func(ctx context.Context, id string) {
			r.dispatcher.Dispatch(dispatch.StateUpdate{
				LexemeIndexUpdates: map[entity.LexemeKey]*entity.Lexeme{entity.LexemeKey(id): nil},
				RepairCursor:       true,
			})
			r.DeleteLexeme(ctx, entity.LexemeKey(id))
		})
}

func (r *Replicator) submitLogTasks(entries []doclog.Entry, onUpdate, onDelete func(ctx context.Context, id string)) {
	if len(entries) == 0 {
		return
	}
	tasks := make([]taskqueue.Task, 0, len(entries))
	for _, e := range entries {
		e := e
		switch e.Action {
		case entity.ActionUpdate:
			tasks = append(tasks, func(ctx context.Context) { onUpdate(ctx, e.ID) })
		case entity.ActionDelete:
			tasks = append(tasks, func(ctx context.Context) { onDelete(ctx, e.ID) })
		}
	}
	r.queue.Add(tasks)
}

// ReplicateThought ensures the thought doc exists, awaits its first
// local-persistence sync, and — if id is the workspace's home token and
// the document has content — resolves the root-sync gate. Never throws;
// persistence errors are reported through the dispatcher.
func (r *Replicator) ReplicateThought(ctx context.Context, id entity.ThoughtID) (entity.Thought, bool) {
	handle, err := r.thoughts.Ensure(ctx, string(id), docname.Thought(r.workspace, string(id)))
	if err != nil {
		r.log.WithError(err).Warn("ensuring thought doc")
		r.dispatcher.Alert(fmt.Sprintf("Error loading thought: %v", err))
		return entity.Thought{}, false
	}
	<-handle.Synced
	thought, ok := codec.CRDTToThought(handle.Doc)
	if ok && id == entity.HomeToken {
		r.resolveRoot(thought)
	}
	return thought, ok
}

// ReplicateLexeme is the symmetric operation for lexemes.
func (r *Replicator) ReplicateLexeme(ctx context.Context, key entity.LexemeKey) (entity.Lexeme, bool) {
	handle, err := r.lexemes.Ensure(ctx, string(key), docname.Lexeme(r.workspace, string(key)))
	if err != nil {
		r.log.WithError(err).Warn("ensuring lexeme doc")
		r.dispatcher.Alert(fmt.Sprintf("Error loading lexeme: %v", err))
		return entity.Lexeme{}, false
	}
	<-handle.Synced
	return codec.CRDTToLexeme(handle.Doc)
}

// GetThoughtByID replicates then projects id.
func (r *Replicator) GetThoughtByID(ctx context.Context, id entity.ThoughtID) (entity.Thought, bool) {
	return r.ReplicateThought(ctx, id)
}

// GetLexemeByID is the symmetric single-key lookup.
func (r *Replicator) GetLexemeByID(ctx context.Context, key entity.LexemeKey) (entity.Lexeme, bool) {
	return r.ReplicateLexeme(ctx, key)
}

// GetThoughtsByIDs maps GetThoughtByID over ids, omitting misses.
func (r *Replicator) GetThoughtsByIDs(ctx context.Context, ids []entity.ThoughtID) map[entity.ThoughtID]entity.Thought {
	out := make(map[entity.ThoughtID]entity.Thought, len(ids))
	for _, id := range ids {
		if thought, ok := r.GetThoughtByID(ctx, id); ok {
			out[id] = thought
		}
	}
	return out
}

// GetLexemesByIDs is the symmetric bulk lookup.
func (r *Replicator) GetLexemesByIDs(ctx context.Context, keys []entity.LexemeKey) map[entity.LexemeKey]entity.Lexeme {
	out := make(map[entity.LexemeKey]entity.Lexeme, len(keys))
	for _, key := range keys {
		if lex, ok := r.GetLexemeByID(ctx, key); ok {
			out[key] = lex
		}
	}
	return out
}

// UpdateThoughts partitions each input into updates and deletes,
// transacts every update through the codec, appends one batch per array
// to the doclog (in the input's own order, not map iteration order),
// fires deletes, and returns a future that resolves once every
// per-entity transaction commit has landed in memory. schemaVersion is
// the application-level schema tag: threaded through for callers that
// need it downstream, not interpreted or enforced by the core itself.
func (r *Replicator) UpdateThoughts(
	ctx context.Context,
	thoughtUpdates []entity.ThoughtUpdate,
	lexemeUpdates []entity.LexemeUpdate,
	schemaVersion string,
) <-chan struct{} {
	var commitFutures []<-chan struct{}
	var thoughtDeletes []entity.ThoughtID
	var lexemeDeletes []entity.LexemeKey
	var thoughtLog []doclog.Entry
	var lexemeLog []doclog.Entry

	for _, u := range thoughtUpdates {
		if u.Thought == nil {
			thoughtDeletes = append(thoughtDeletes, u.ID)
			thoughtLog = append(thoughtLog, doclog.Entry{ID: string(u.ID), Action: entity.ActionDelete})
			continue
		}
		commitFutures = append(commitFutures, r.updateThought(ctx, u.ID, *u.Thought))
		thoughtLog = append(thoughtLog, doclog.Entry{ID: string(u.ID), Action: entity.ActionUpdate})
	}
	for _, u := range lexemeUpdates {
		if u.Lexeme == nil {
			lexemeDeletes = append(lexemeDeletes, u.Key)
			lexemeLog = append(lexemeLog, doclog.Entry{ID: string(u.Key), Action: entity.ActionDelete})
			continue
		}
		commitFutures = append(commitFutures, r.updateLexeme(ctx, u.Key, *u.Lexeme))
		lexemeLog = append(lexemeLog, doclog.Entry{ID: string(u.Key), Action: entity.ActionUpdate})
	}

	if r.docLog != nil {
		r.docLog.AppendBatch(doclog.Thought, thoughtLog)
		r.docLog.AppendBatch(doclog.Lexeme, lexemeLog)
	}

	for _, id := range thoughtDeletes {
		r.DeleteThought(ctx, id)
	}
	for _, key := range lexemeDeletes {
		r.DeleteLexeme(ctx, key)
	}

	done := make(chan struct{})
	go func() {
		for _, f := range commitFutures {
			<-f
		}
		close(done)
	}()
	return done
}

func (r *Replicator) updateThought(ctx context.Context, id entity.ThoughtID, thought entity.Thought) <-chan struct{} {
	name := docname.Thought(r.workspace, string(id))
	handle, err := r.thoughts.Ensure(ctx, string(id), name)
	if err != nil {
		r.log.WithError(err).Warn("ensuring thought doc for update")
		r.dispatcher.Alert(fmt.Sprintf("Error saving thought: %v", err))
		done := make(chan struct{})
		close(done)
		return done
	}
	r.updates.Enqueue(name)
	committed := make(chan struct{})
	handle.Doc.OnceAfterTransaction(func() { close(committed) })
	handle.Doc.Transact(r.sessionID, func(tx *crdtdoc.Tx) {
		codec.ThoughtToCRDT(tx, thought)
	})
	r.markThoughtPresent(id)
	if id == entity.HomeToken {
		go func() {
			<-handle.Synced
			if root, ok := codec.CRDTToThought(handle.Doc); ok {
				r.resolveRoot(root)
			}
		}()
	}
	return committed
}

func (r *Replicator) updateLexeme(ctx context.Context, key entity.LexemeKey, lex entity.Lexeme) <-chan struct{} {
	name := docname.Lexeme(r.workspace, string(key))
	handle, err := r.lexemes.Ensure(ctx, string(key), name)
	if err != nil {
		r.log.WithError(err).Warn("ensuring lexeme doc for update")
		r.dispatcher.Alert(fmt.Sprintf("Error saving lexeme: %v", err))
		done := make(chan struct{})
		close(done)
		return done
	}
	r.updates.Enqueue(name)
	committed := make(chan struct{})
	handle.Doc.OnceAfterTransaction(func() { close(committed) })
	handle.Doc.Transact(r.sessionID, func(tx *crdtdoc.Tx) {
		codec.LexemeToCRDT(tx, lex)
	})
	r.markLexemePresent(key)
	return committed
}

// DeleteThought unregisters and destroys the thought doc, removes the
// registry entry, and drops its backing local database by name. Errors
// dropping the database are reported, never thrown.
func (r *Replicator) DeleteThought(ctx context.Context, id entity.ThoughtID) {
	name := docname.Thought(r.workspace, string(id))
	r.updates.Enqueue(name)
	r.thoughts.Remove(string(id))
	r.markThoughtAbsent(id)
	if r.thoughtStore != nil {
		if err := r.thoughtStore.Delete(ctx, name); err != nil {
			r.log.WithError(err).Warn("deleting thought database")
			r.dispatcher.Alert(fmt.Sprintf("Error deleting thought: %v", err))
		}
	}
	r.updates.Dequeue(name)
}

// DeleteLexeme is the symmetric operation for lexemes.
func (r *Replicator) DeleteLexeme(ctx context.Context, key entity.LexemeKey) {
	name := docname.Lexeme(r.workspace, string(key))
	r.updates.Enqueue(name)
	r.lexemes.Remove(string(key))
	r.markLexemeAbsent(key)
	if r.lexemeStore != nil {
		if err := r.lexemeStore.Delete(ctx, name); err != nil {
			r.log.WithError(err).Warn("deleting lexeme database")
			r.dispatcher.Alert(fmt.Sprintf("Error deleting lexeme: %v", err))
		}
	}
	r.updates.Dequeue(name)
}

// Clear deletes every currently-registered thought and lexeme, then
// replays initialThoughts/initialLexemes through UpdateThoughts so the
// workspace has a root again. Clear has no schema_version of its own to
// thread (it reinitializes to the application's fixed default state,
// not a caller-supplied document), so its replay always passes the
// empty string through to UpdateThoughts.
func (r *Replicator) Clear(
	ctx context.Context,
	initialThoughts []entity.ThoughtUpdate,
	initialLexemes []entity.LexemeUpdate,
) <-chan struct{} {
	for _, id := range r.thoughts.IDs() {
		r.DeleteThought(ctx, entity.ThoughtID(id))
	}
	for _, key := range r.lexemes.IDs() {
		r.DeleteLexeme(ctx, entity.LexemeKey(key))
	}
	return r.UpdateThoughts(ctx, initialThoughts, initialLexemes, "")
}

// RootSyncedCh returns a channel closed exactly once, the first time the
// HOME_TOKEN document has completed its local-persistence sync with
// non-empty content — reached either through ReplicateThought or through
// a local UpdateThoughts write of the root. Read RootValue after it
// closes.
func (r *Replicator) RootSyncedCh() <-chan struct{} {
	return r.rootReady
}

// RootValue returns the thought that resolved the root-sync gate. Only
// meaningful after RootSyncedCh is closed.
func (r *Replicator) RootValue() entity.Thought {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	return r.rootValue
}

func (r *Replicator) resolveRoot(thought entity.Thought) {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	if r.rootDone {
		return
	}
	r.rootDone = true
	r.rootValue = thought
	close(r.rootReady)
}

func (r *Replicator) isThoughtPresent(id entity.ThoughtID) bool {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()
	_, ok := r.presentThoughts[id]
	return ok
}

func (r *Replicator) markThoughtPresent(id entity.ThoughtID) {
	r.presenceMu.Lock()
	r.presentThoughts[id] = struct{}{}
	r.presenceMu.Unlock()
}

func (r *Replicator) markThoughtAbsent(id entity.ThoughtID) {
	r.presenceMu.Lock()
	delete(r.presentThoughts, id)
	r.presenceMu.Unlock()
}

func (r *Replicator) isLexemePresent(key entity.LexemeKey) bool {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()
	_, ok := r.presentLexemes[key]
	return ok
}

func (r *Replicator) markLexemePresent(key entity.LexemeKey) {
	r.presenceMu.Lock()
	r.presentLexemes[key] = struct{}{}
	r.presenceMu.Unlock()
}

func (r *Replicator) markLexemeAbsent(key entity.LexemeKey) {
	r.presenceMu.Lock()
	delete(r.presentLexemes, key)
	r.presenceMu.Unlock()
}
