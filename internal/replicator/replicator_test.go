package replicator

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtkeep/em-sync/internal/clock"
	"github.com/thoughtkeep/em-sync/internal/doclog"
	"github.com/thoughtkeep/em-sync/internal/entity"
	"github.com/thoughtkeep/em-sync/internal/enginetest"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/registry"
	"github.com/thoughtkeep/em-sync/internal/taskqueue"
	"github.com/thoughtkeep/em-sync/internal/transport"
	"github.com/thoughtkeep/em-sync/internal/updateset"
)

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// wired builds a Replicator with its own registries and doclog, the way
// engine.New does, against the given store/transport (either may be
// nil for in-memory-only test-mode).
func wired(t *testing.T, workspace string, store persistence.Store, tf transport.Factory, dispatcher *enginetest.SpyDispatcher) *Replicator {
	t.Helper()
	sid := clock.NewSessionID()
	log := silentLogger()
	queue := taskqueue.New(taskqueue.Options{})
	updates := updateset.New(nil)

	rep := New(workspace, sid, queue, updates, store, store, dispatcher, log)
	alert := func(id, message string) { dispatcher.Alert(message) }
	thoughts := registry.New("thought", sid, store, tf, rep.OnThoughtEvent, alert, log)
	lexemes := registry.New("lexeme", sid, store, tf, rep.OnLexemeEvent, alert, log)

	dl := doclog.New(workspace+"/doclog", sid, log)
	dl.OnThoughtEntries = rep.OnThoughtLogEntries
	dl.OnLexemeEntries = rep.OnLexemeLogEntries
	dl.Alert = func(message string) { dispatcher.Alert(message) }

	rep.Attach(thoughts, lexemes, dl)
	require.NoError(t, dl.Start(context.Background(), store, tf))
	t.Cleanup(func() {
		queue.Close()
		dl.Close()
	})
	return rep
}

func TestReplicateHomeTokenResolvesRootGateOnceContentExists(t *testing.T) {
	ctx := context.Background()
	dispatcher := &enginetest.SpyDispatcher{}
	store := persistence.NewMemoryStore()
	rep := wired(t, "ws1", store, nil, dispatcher)

	select {
	case <-rep.RootSyncedCh():
		t.Fatal("root gate resolved before any root content was written")
	default:
	}

	root := entity.Thought{ID: entity.HomeToken, Value: "home"}
	done := rep.UpdateThoughts(ctx, []entity.ThoughtUpdate{{ID: entity.HomeToken, Thought: &root}}, nil, "")
	<-done

	thought, ok := rep.ReplicateThought(ctx, entity.HomeToken)
	require.True(t, ok)
	assert.Equal(t, "home", thought.Value)

	select {
	case <-rep.RootSyncedCh():
		assert.Equal(t, entity.HomeToken, rep.RootValue().ID)
	case <-time.After(time.Second):
		t.Fatal("root gate never resolved")
	}
}

func TestRemoteThoughtChangeDispatchedOnlyWhenAlreadyPresent(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemoryBus()

	dispatcherA := &enginetest.SpyDispatcher{}
	repA := wired(t, "ws1", nil, bus.Open, dispatcherA)

	dispatcherB := &enginetest.SpyDispatcher{}
	repB := wired(t, "ws1", nil, bus.Open, dispatcherB)

	child := entity.Thought{ID: "t1", ParentID: entity.HomeToken, Value: "v1"}
	<-repA.UpdateThoughts(ctx, []entity.ThoughtUpdate{{ID: "t1", Thought: &child}}, nil, "")

	// B learns "t1" exists (e.g. via its own doclog-driven replicate
	// task) and binds to its document, subscribing to the same transport
	// channel A publishes on — but nothing has put it in B's app state.
	_, _ = repB.ReplicateThought(ctx, "t1")

	// With the binding established but the thought absent from B's app
	// state, a further remote write must not be dispatched.
	updated1 := entity.Thought{ID: "t1", ParentID: entity.HomeToken, Value: "v1.5"}
	<-repA.UpdateThoughts(ctx, []entity.ThoughtUpdate{{ID: "t1", Thought: &updated1}}, nil, "")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, dispatcherB.Len())

	// Once B's application state already has the parent, the same kind
	// of remote write is dispatched.
	repB.markThoughtPresent(entity.HomeToken)
	updated := entity.Thought{ID: "t1", ParentID: entity.HomeToken, Value: "v2"}
	<-repA.UpdateThoughts(ctx, []entity.ThoughtUpdate{{ID: "t1", Thought: &updated}}, nil, "")

	require.Eventually(t, func() bool { return dispatcherB.Len() > 0 }, time.Second, 10*time.Millisecond)
	updates := dispatcherB.Updates()
	got := updates[len(updates)-1]
	require.Contains(t, got.ThoughtIndexUpdates, entity.ThoughtID("t1"))
	assert.Equal(t, "v2", got.ThoughtIndexUpdates["t1"].Value)
	assert.True(t, got.RepairCursor)
}

func TestDeleteThoughtDequeuesUpdateSetAndRemovesRegistryEntry(t *testing.T) {
	ctx := context.Background()
	dispatcher := &enginetest.SpyDispatcher{}
	rep := wired(t, "ws1", nil, nil, dispatcher)

	thought := entity.Thought{ID: "t1", ParentID: entity.HomeToken, Value: "v1"}
	<-rep.UpdateThoughts(ctx, []entity.ThoughtUpdate{{ID: "t1", Thought: &thought}}, nil, "")

	_, ok := rep.thoughts.Get("t1")
	require.True(t, ok)

	rep.DeleteThought(ctx, "t1")

	_, ok = rep.thoughts.Get("t1")
	assert.False(t, ok)
	assert.False(t, rep.isThoughtPresent("t1"))
	assert.False(t, rep.updates.IsPushing())
}

func TestClearReplaysInitialStateAfterDeletingEverything(t *testing.T) {
	ctx := context.Background()
	dispatcher := &enginetest.SpyDispatcher{}
	rep := wired(t, "ws1", nil, nil, dispatcher)

	stale := entity.Thought{ID: "stale", ParentID: entity.HomeToken, Value: "gone soon"}
	<-rep.UpdateThoughts(ctx, []entity.ThoughtUpdate{{ID: "stale", Thought: &stale}}, nil, "")

	root := entity.Thought{ID: entity.HomeToken, Value: "fresh root"}
	<-rep.Clear(ctx, []entity.ThoughtUpdate{{ID: entity.HomeToken, Thought: &root}}, nil)

	_, ok := rep.thoughts.Get("stale")
	assert.False(t, ok)

	thought, ok := rep.GetThoughtByID(ctx, entity.HomeToken)
	require.True(t, ok)
	assert.Equal(t, "fresh root", thought.Value)
}

func TestUpdateThoughtsBuildsDocLogInInputOrderNotMapOrder(t *testing.T) {
	ctx := context.Background()
	dispatcher := &enginetest.SpyDispatcher{}
	rep := wired(t, "ws1", nil, nil, dispatcher)

	a := entity.Thought{ID: "a", ParentID: entity.HomeToken, Value: "a"}
	b := entity.Thought{ID: "b", ParentID: entity.HomeToken, Value: "b"}
	<-rep.UpdateThoughts(ctx, []entity.ThoughtUpdate{
		{ID: "a", Thought: &a},
		{ID: "b", Thought: &b},
	}, nil, "")

	// A batch built from the caller's own order, not Go's randomized map
	// iteration order, must always land "b" as the tail here.
	tail, ok := rep.docLog.Tail(doclog.Thought)
	require.True(t, ok)
	assert.Equal(t, doclog.Entry{ID: "b", Action: entity.ActionUpdate}, tail)

	<-rep.UpdateThoughts(ctx, []entity.ThoughtUpdate{
		{ID: "b", Thought: nil},
		{ID: "a", Thought: &a},
	}, nil, "")
	tail, ok = rep.docLog.Tail(doclog.Thought)
	require.True(t, ok)
	assert.Equal(t, doclog.Entry{ID: "a", Action: entity.ActionUpdate}, tail)
}
