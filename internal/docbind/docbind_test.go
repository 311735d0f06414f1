package docbind

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtkeep/em-sync/internal/clock"
	"github.com/thoughtkeep/em-sync/internal/crdtdoc"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/transport"
)

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestBindWriteThroughPersistsEveryCommit(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	sid := clock.NewSessionID()
	doc := crdtdoc.NewDocument("ws1/thought/abc", sid)
	defer doc.Close()

	b, err := Bind(ctx, silentLogger(), doc, "ws1/thought/abc", store, nil, nil, nil)
	require.NoError(t, err)
	defer b.Close()

	<-b.WhenSynced()

	doc.Transact(sid, func(tx *crdtdoc.Tx) {
		tx.Root().Set("value", tx.NextTS(), "hello")
	})
	time.Sleep(50 * time.Millisecond)

	reopened, err := store.Open(ctx, "ws1/thought/abc")
	require.NoError(t, err)
	<-reopened.WhenSynced()
	assert.Equal(t, "hello", reopened.Snapshot()["value"])
}

func TestBindPublishesOnlyLocalCommitsAndAppliesRemote(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemoryBus()

	sidA := clock.NewSessionID()
	docA := crdtdoc.NewDocument("ws1/doclog", sidA)
	defer docA.Close()
	bindA, err := Bind(ctx, silentLogger(), docA, "ws1/doclog", nil, bus.Open, nil, nil)
	require.NoError(t, err)
	defer bindA.Close()

	sidB := clock.NewSessionID()
	docB := crdtdoc.NewDocument("ws1/doclog", sidB)
	defer docB.Close()

	var received []crdtdoc.Event
	var mu sync.Mutex
	docB.Observe(func(ev crdtdoc.Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})
	bindB, err := Bind(ctx, silentLogger(), docB, "ws1/doclog", nil, bus.Open, nil, nil)
	require.NoError(t, err)
	defer bindB.Close()

	docA.Transact(sidA, func(tx *crdtdoc.Tx) {
		tx.Root().Set("value", tx.NextTS(), "from-a")
	})

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("remote document never received the delta")
		case <-time.After(10 * time.Millisecond):
		}
	}

	assert.Equal(t, "from-a", docB.Root().Snapshot()["value"])
}
