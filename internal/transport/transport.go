// Package transport implements the remote transport contract this
// module consumes: bidirectional CRDT sync over a shared workspace
// channel, bound by document name. Publish/subscribe over one named
// channel per document, with self-originated messages filtered out on
// receive.
package transport

import "context"

// Delta is one remote payload exchanged over a document's channel: the
// serialized CRDT update plus the origin session it was produced by, so
// receivers can filter out events whose origin equals the local client
// id even across the wire.
type Delta struct {
	Origin string
	Data   []byte
}

// Transport is bound to one document name at construction time (via
// Factory). Publish broadcasts a locally-produced delta; Next blocks
// until a remote delta (never one this Transport itself published)
// arrives.
type Transport interface {
	Publish(ctx context.Context, delta Delta) error
	Next(ctx context.Context) (Delta, error)
	Close() error
}

// Factory opens a Transport bound to a document name, self-filtered so
// Next never returns a Delta this instance itself Published.
// localOrigin is the calling document's own session id.
type Factory func(ctx context.Context, name string, localOrigin string) (Transport, error)
