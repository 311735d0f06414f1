package doclog

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtkeep/em-sync/internal/clock"
	"github.com/thoughtkeep/em-sync/internal/entity"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/transport"
)

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestAppendElidesWhenHeadEqualsTail(t *testing.T) {
	ctx := context.Background()
	dl := New("ws1/doclog", clock.NewSessionID(), silentLogger())
	require.NoError(t, dl.Start(ctx, nil, nil))
	defer dl.Close()

	dl.Append(Thought, "t1", entity.ActionUpdate)
	dl.Append(Thought, "t1", entity.ActionUpdate)

	tail, ok := dl.Tail(Thought)
	require.True(t, ok)
	assert.Equal(t, Entry{ID: "t1", Action: entity.ActionUpdate}, tail)
}

func TestAppendBatchDedupsOnlyFirstEntry(t *testing.T) {
	ctx := context.Background()
	dl := New("ws1/doclog", clock.NewSessionID(), silentLogger())
	require.NoError(t, dl.Start(ctx, nil, nil))
	defer dl.Close()

	dl.Append(Lexeme, "hello", entity.ActionUpdate)
	dl.AppendBatch(Lexeme, []Entry{
		{ID: "hello", Action: entity.ActionUpdate}, // elided: equals current tail
		{ID: "world", Action: entity.ActionUpdate},
	})

	entries := extractEntries(dl.doc.Root(), string(Lexeme), 0)
	assert.Equal(t, []Entry{
		{ID: "hello", Action: entity.ActionUpdate},
		{ID: "world", Action: entity.ActionUpdate},
	}, entries)
}

func TestLocalCommitPublishesAndHydrationDoesNotTriggerCallbacks(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	bus := transport.NewMemoryBus()

	sid := clock.NewSessionID()
	dl := New("ws1/doclog", sid, silentLogger())

	var callbackFired bool
	dl.OnThoughtEntries = func(entries []Entry) { callbackFired = true }

	require.NoError(t, dl.Start(ctx, store, bus.Open))
	defer dl.Close()
	<-dl.WhenSynced()

	dl.Append(Thought, "t1", entity.ActionUpdate)
	time.Sleep(50 * time.Millisecond)

	assert.False(t, callbackFired, "local append must not trigger the remote-insert callback")

	reopened, err := store.Open(ctx, "ws1/doclog")
	require.NoError(t, err)
	<-reopened.WhenSynced()
	assert.NotNil(t, reopened.Snapshot())

	// A second doclog instance hydrating the same persisted history
	// must not re-fire callbacks for entries already reflected there.
	dl2 := New("ws1/doclog", clock.NewSessionID(), silentLogger())
	var dl2Fired bool
	dl2.OnThoughtEntries = func(entries []Entry) { dl2Fired = true }
	require.NoError(t, dl2.Start(ctx, store, nil))
	defer dl2.Close()
	<-dl2.WhenSynced()
	assert.False(t, dl2Fired)
}

func TestRemoteInsertFlattenReverseDedupEmitsNewestActionOnly(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemoryBus()

	sidA := clock.NewSessionID()
	dlA := New("ws1/doclog", sidA, silentLogger())
	require.NoError(t, dlA.Start(ctx, nil, bus.Open))
	defer dlA.Close()

	sidB := clock.NewSessionID()
	dlB := New("ws1/doclog", sidB, silentLogger())

	received := make(chan []Entry, 1)
	dlB.OnThoughtEntries = func(entries []Entry) { received <- entries }
	require.NoError(t, dlB.Start(ctx, nil, bus.Open))
	defer dlB.Close()

	dlA.AppendBatch(Thought, []Entry{
		{ID: "a", Action: entity.ActionUpdate},
		{ID: "b", Action: entity.ActionUpdate},
		{ID: "a", Action: entity.ActionDelete},
	})

	select {
	case entries := <-received:
		// Newest-first, deduped: "a"'s delete (the newest action for
		// "a") survives, its earlier update does not; "b" is present.
		assert.ElementsMatch(t, []Entry{
			{ID: "a", Action: entity.ActionDelete},
			{ID: "b", Action: entity.ActionUpdate},
		}, entries)
		for _, e := range entries {
			if e.ID == "a" {
				assert.Equal(t, entity.ActionDelete, e.Action)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("remote doclog never observed the batch")
	}
}
