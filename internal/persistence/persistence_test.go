package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p, err := store.Open(ctx, "ws1/thought/abc")
	require.NoError(t, err)
	<-p.WhenSynced()
	assert.Nil(t, p.Snapshot())

	require.NoError(t, p.Save(ctx, map[string]interface{}{"value": "hello"}))

	reopened, err := store.Open(ctx, "ws1/thought/abc")
	require.NoError(t, err)
	<-reopened.WhenSynced()
	assert.Equal(t, "hello", reopened.Snapshot()["value"])

	require.NoError(t, store.Delete(ctx, "ws1/thought/abc"))
	reopened2, err := store.Open(ctx, "ws1/thought/abc")
	require.NoError(t, err)
	<-reopened2.WhenSynced()
	assert.Nil(t, reopened2.Snapshot())
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "docs"))
	require.NoError(t, err)

	p, err := store.Open(ctx, "ws1/lexeme/hello")
	require.NoError(t, err)
	<-p.WhenSynced()
	assert.Nil(t, p.Snapshot())

	require.NoError(t, p.Save(ctx, map[string]interface{}{"contexts": map[string]interface{}{"t1": true}}))

	reopened, err := store.Open(ctx, "ws1/lexeme/hello")
	require.NoError(t, err)
	<-reopened.WhenSynced()
	require.NotNil(t, reopened.Snapshot())

	require.NoError(t, store.Delete(ctx, "ws1/lexeme/hello"))
	reopened2, err := store.Open(ctx, "ws1/lexeme/hello")
	require.NoError(t, err)
	<-reopened2.WhenSynced()
	assert.Nil(t, reopened2.Snapshot())

	// Deleting an already-absent document must not error.
	require.NoError(t, store.Delete(ctx, "ws1/lexeme/never-existed"))
}
