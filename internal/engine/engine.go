// Package engine wires one workspace's whole replication core together:
// two DocRegistries (thought, lexeme), the DocLog singleton, a
// TaskQueue, an UpdateSet, a Replicator, and the asyncmutex.Mutex that
// serializes the single-writer maintenance operation (clear). It is the
// facade a host process constructs once per workspace and drives
// through for every operation.
package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/thoughtkeep/em-sync/internal/asyncmutex"
	"github.com/thoughtkeep/em-sync/internal/clock"
	"github.com/thoughtkeep/em-sync/internal/dispatch"
	"github.com/thoughtkeep/em-sync/internal/docname"
	"github.com/thoughtkeep/em-sync/internal/doclog"
	"github.com/thoughtkeep/em-sync/internal/entity"
	"github.com/thoughtkeep/em-sync/internal/metrics"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/registry"
	"github.com/thoughtkeep/em-sync/internal/replicator"
	"github.com/thoughtkeep/em-sync/internal/taskqueue"
	"github.com/thoughtkeep/em-sync/internal/transport"
	"github.com/thoughtkeep/em-sync/internal/updateset"
)

// Dependencies are the collaborators this module consumes. Every field
// may be nil/zero — an Engine with no Store and no Factory set runs
// entirely in memory, a test-mode configuration.
type Dependencies struct {
	ThoughtStore persistence.Store
	LexemeStore  persistence.Store
	DocLogStore  persistence.Store

	Transport transport.Factory

	Dispatcher dispatch.Dispatcher // nil defaults to dispatch.NoopDispatcher{}
	Metrics    metrics.Sink        // nil defaults to metrics.NoopSink{}
	Log        *logrus.Logger      // nil defaults to a fresh logrus.New()
}

// Options are the per-workspace configuration knobs.
type Options struct {
	// Workspace names the workspace every document name in this Engine
	// is rooted under. Required.
	Workspace string

	// Concurrency caps the TaskQueue's concurrent replication tasks.
	// Zero selects taskqueue's own default.
	Concurrency int
}

// Engine is the process-wide wiring for one workspace. The zero value
// is not usable; use New.
type Engine struct {
	workspace string
	sessionID clock.SessionID

	thoughts *registry.Registry
	lexemes  *registry.Registry
	docLog   *doclog.DocLog
	updates  *updateset.Set
	queue    *taskqueue.Queue
	rep      *replicator.Replicator
	mutex    *asyncmutex.Mutex

	dispatcher dispatch.Dispatcher
	log        *logrus.Logger
}

// New constructs and starts an Engine: registries, doclog, taskqueue,
// updateset, and replicator are wired together and the doclog begins
// hydrating immediately.
func New(ctx context.Context, opts Options, deps Dependencies) (*Engine, error) {
	if opts.Workspace == "" {
		return nil, fmt.Errorf("engine: Workspace is required")
	}

	log := deps.Log
	if log == nil {
		log = logrus.New()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.NoopDispatcher{}
	}
	sink := deps.Metrics
	if sink == nil {
		sink = metrics.NoopSink{}
	}

	sessionID := clock.NewSessionID()

	updates := updateset.New(func(pushing bool) { sink.SetPushing(pushing) })
	queue := taskqueue.New(taskqueue.Options{
		Concurrency: opts.Concurrency,
		OnStep: func(complete, total int) {
			if total == 0 {
				return
			}
			sink.SetReplicationProgress(float64(complete) / float64(total))
		},
	})

	rep := replicator.New(opts.Workspace, sessionID, queue, updates, deps.ThoughtStore, deps.LexemeStore, dispatcher, log)

	alert := func(id string, message string) { dispatcher.Alert(message) }
	thoughts := registry.New("thought", sessionID, deps.ThoughtStore, deps.Transport, rep.OnThoughtEvent, alert, log)
	lexemes := registry.New("lexeme", sessionID, deps.LexemeStore, deps.Transport, rep.OnLexemeEvent, alert, log)

	docLog := doclog.New(docname.DocLog(opts.Workspace), sessionID, log)
	docLog.OnThoughtEntries = rep.OnThoughtLogEntries
	docLog.OnLexemeEntries = rep.OnLexemeLogEntries
	docLog.Alert = func(message string) { dispatcher.Alert(message) }

	rep.Attach(thoughts, lexemes, docLog)

	if err := docLog.Start(ctx, deps.DocLogStore, deps.Transport); err != nil {
		queue.Close()
		return nil, fmt.Errorf("engine: start doclog: %w", err)
	}

	return &Engine{
		workspace:  opts.Workspace,
		sessionID:  sessionID,
		thoughts:   thoughts,
		lexemes:    lexemes,
		docLog:     docLog,
		updates:    updates,
		queue:      queue,
		rep:        rep,
		mutex:      asyncmutex.New(),
		dispatcher: dispatcher,
		log:        log,
	}, nil
}

// Replicator returns the underlying Replicator, for callers that need
// its full surface beyond the convenience delegates below.
func (e *Engine) Replicator() *replicator.Replicator { return e.rep }

// RootSyncedCh resolves once the workspace's root thought has completed
// its first local-persistence sync with content.
func (e *Engine) RootSyncedCh() <-chan struct{} { return e.rep.RootSyncedCh() }

// RootValue returns the thought that resolved the root-sync gate. Only
// meaningful after RootSyncedCh is closed.
func (e *Engine) RootValue() entity.Thought { return e.rep.RootValue() }

// ReplicateThought delegates to the Replicator.
func (e *Engine) ReplicateThought(ctx context.Context, id entity.ThoughtID) (entity.Thought, bool) {
	return e.rep.ReplicateThought(ctx, id)
}

// ReplicateLexeme delegates to the Replicator.
func (e *Engine) ReplicateLexeme(ctx context.Context, key entity.LexemeKey) (entity.Lexeme, bool) {
	return e.rep.ReplicateLexeme(ctx, key)
}

// GetThoughtByID delegates to the Replicator.
func (e *Engine) GetThoughtByID(ctx context.Context, id entity.ThoughtID) (entity.Thought, bool) {
	return e.rep.GetThoughtByID(ctx, id)
}

// GetLexemeByID delegates to the Replicator.
func (e *Engine) GetLexemeByID(ctx context.Context, key entity.LexemeKey) (entity.Lexeme, bool) {
	return e.rep.GetLexemeByID(ctx, key)
}

// GetThoughtsByIDs delegates to the Replicator.
func (e *Engine) GetThoughtsByIDs(ctx context.Context, ids []entity.ThoughtID) map[entity.ThoughtID]entity.Thought {
	return e.rep.GetThoughtsByIDs(ctx, ids)
}

// GetLexemesByIDs delegates to the Replicator.
func (e *Engine) GetLexemesByIDs(ctx context.Context, keys []entity.LexemeKey) map[entity.LexemeKey]entity.Lexeme {
	return e.rep.GetLexemesByIDs(ctx, keys)
}

// UpdateThoughts delegates to the Replicator. schemaVersion is the
// application-level schema tag, passed through but not enforced here.
func (e *Engine) UpdateThoughts(
	ctx context.Context,
	thoughtUpdates []entity.ThoughtUpdate,
	lexemeUpdates []entity.LexemeUpdate,
	schemaVersion string,
) <-chan struct{} {
	return e.rep.UpdateThoughts(ctx, thoughtUpdates, lexemeUpdates, schemaVersion)
}

// DeleteThought delegates to the Replicator.
func (e *Engine) DeleteThought(ctx context.Context, id entity.ThoughtID) {
	e.rep.DeleteThought(ctx, id)
}

// DeleteLexeme delegates to the Replicator.
func (e *Engine) DeleteLexeme(ctx context.Context, key entity.LexemeKey) {
	e.rep.DeleteLexeme(ctx, key)
}

// Clear acquires the engine's maintenance mutex so concurrent clears
// serialize instead of racing, then replays initialThoughts/
// initialLexemes through the Replicator.
func (e *Engine) Clear(
	ctx context.Context,
	initialThoughts []entity.ThoughtUpdate,
	initialLexemes []entity.LexemeUpdate,
) error {
	if err := e.mutex.Lock(ctx); err != nil {
		return fmt.Errorf("engine: clear: acquire mutex: %w", err)
	}
	defer e.mutex.Unlock()

	done := e.rep.Clear(ctx, initialThoughts, initialLexemes)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down every registered document, the doclog, and the
// taskqueue. It does not delete persisted data.
func (e *Engine) Close() error {
	for _, id := range e.thoughts.IDs() {
		e.thoughts.Remove(id)
	}
	for _, id := range e.lexemes.IDs() {
		e.lexemes.Remove(id)
	}
	e.queue.Close()
	if err := e.docLog.Close(); err != nil {
		e.log.WithError(err).Warn("closing doclog")
		return err
	}
	return nil
}
