// Package persistence implements the local persistence contract this
// module consumes: per document name, a "sync-on-open" future,
// write-through snapshot saves, and deletion of a backing database by
// name — independent of whether a Provider for that name is currently
// open in memory. One struct per backend (Memory, File, Redis, Mongo,
// SQL), each opened through the same Store interface.
package persistence

import "context"

// Provider is bound to one document name at construction time (via
// Store.Open). WhenSynced resolves once the document's initial snapshot
// has been loaded from the backend (or determined not to exist).
type Provider interface {
	// WhenSynced returns a channel closed exactly once, when the first
	// load attempt completes.
	WhenSynced() <-chan struct{}

	// Snapshot returns the most recently loaded (or saved) document
	// snapshot, nil if the document has never been saved and the load
	// found nothing.
	Snapshot() map[string]interface{}

	// Save write-throughs snapshot for this document name.
	Save(ctx context.Context, snapshot map[string]interface{}) error

	// Close releases any resources the provider holds open (file
	// handles, nothing for most backends). It does not delete data.
	Close() error
}

// Store opens per-document-name Providers against one backend and can
// delete a document's backing data by name even when no Provider for it
// is currently open, so a delete can drop the backing local database
// purely by document name.
type Store interface {
	Open(ctx context.Context, name string) (Provider, error)
	Delete(ctx context.Context, name string) error
	Close() error
}
