// Package docbind wires a crdtdoc.Document to its local persistence and
// remote transport collaborators: write-through save on every commit,
// hydration from disk on open, and publish-on-local-commit / apply-on-
// remote-delta over the transport. The entity registry binds every
// entity document through this package; the doclog has its own wiring
// in internal/doclog.
package docbind

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/thoughtkeep/em-sync/internal/clock"
	"github.com/thoughtkeep/em-sync/internal/crdtdoc"
	"github.com/thoughtkeep/em-sync/internal/persistence"
	"github.com/thoughtkeep/em-sync/internal/transport"
)

// Binding is the live set of collaborators wired to one Document.
type Binding struct {
	Doc         *crdtdoc.Document
	Persistence persistence.Provider // nil in test-mode configuration
	Transport   transport.Transport  // nil in test-mode configuration

	log        *logrus.Logger
	alert      func(string)
	unregister func()
	// hydrated closes once the initial hydration attempt has actually
	// been applied to Doc (or determined there was nothing to apply) —
	// distinct from Persistence.WhenSynced, which only means the I/O
	// layer finished its own load and says nothing about whether that
	// result has reached the document yet.
	hydrated chan struct{}
}

// Bind opens (if store/factory are non-nil) a Provider and Transport for
// documentName, installs write-through + publish-on-commit, starts
// hydration from disk and the remote-delta pump, and forwards every
// commit event to onEvent (both local- and remote-originated; callers
// that only want remote changes filter by ev.Origin themselves). alert,
// if non-nil, is called with a human-readable message whenever a
// persistence save for the bound document fails after Bind returns;
// transport publish failures are only logged. Failures during Bind
// itself are returned as errors instead, since no document is usable
// yet.
func Bind(
	ctx context.Context,
	log *logrus.Logger,
	doc *crdtdoc.Document,
	documentName string,
	store persistence.Store,
	transportFactory transport.Factory,
	onEvent crdtdoc.Observer,
	alert func(string),
) (*Binding, error) {
	b := &Binding{Doc: doc, log: log, alert: alert, hydrated: make(chan struct{})}

	if store != nil {
		p, err := store.Open(ctx, documentName)
		if err != nil {
			return nil, fmt.Errorf("docbind: open persistence for %s: %w", documentName, err)
		}
		b.Persistence = p
		go b.hydrate()
	} else {
		close(b.hydrated) // nothing to hydrate; treat as already-synced
	}

	if transportFactory != nil {
		tr, err := transportFactory(ctx, documentName, doc.SessionID().String())
		if err != nil {
			if b.Persistence != nil {
				b.Persistence.Close()
			}
			return nil, fmt.Errorf("docbind: open transport for %s: %w", documentName, err)
		}
		b.Transport = tr
		go b.pumpRemote(ctx, documentName)
	}

	b.unregister = doc.Observe(func(ev crdtdoc.Event) {
		if b.Persistence != nil {
			if err := b.Persistence.Save(ctx, doc.Root().Snapshot()); err != nil {
				log.WithFields(logrus.Fields{"doc": documentName}).WithError(err).Warn("persistence save failed")
				if b.alert != nil {
					b.alert(fmt.Sprintf("Error saving %s: %v", documentName, err))
				}
			}
		}
		if b.Transport != nil && ev.Origin == doc.SessionID() {
			if err := b.publish(ctx, doc); err != nil {
				log.WithFields(logrus.Fields{"doc": documentName}).WithError(err).Warn("transport publish failed")
			}
		}
		if onEvent != nil {
			onEvent(ev)
		}
	})

	return b, nil
}

// WhenSynced resolves once the initial hydration attempt (from
// persistence, if any) has been applied to Doc.
func (b *Binding) WhenSynced() <-chan struct{} {
	return b.hydrated
}

func (b *Binding) hydrate() {
	<-b.Persistence.WhenSynced()
	snapshot := b.Persistence.Snapshot()
	if snapshot != nil {
		// Hydration is not a remote change: tag it with the document's
		// own session so observers don't mistake it for a peer's write.
		b.Doc.ApplyRemoteSnapshot(b.Doc.SessionID(), snapshot)
	}
	close(b.hydrated)
}

func (b *Binding) publish(ctx context.Context, doc *crdtdoc.Document) error {
	data, err := json.Marshal(doc.Root().Snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return b.Transport.Publish(ctx, transport.Delta{Origin: doc.SessionID().String(), Data: data})
}

func (b *Binding) pumpRemote(ctx context.Context, documentName string) {
	for {
		delta, err := b.Transport.Next(ctx)
		if err != nil {
			return // transport closed or ctx canceled
		}
		origin, err := clock.ParseSessionID(delta.Origin)
		if err != nil {
			b.log.WithFields(logrus.Fields{"doc": documentName}).WithError(err).Warn("dropping delta with unparseable origin")
			continue
		}
		var snapshot map[string]interface{}
		if err := json.Unmarshal(delta.Data, &snapshot); err != nil {
			b.log.WithFields(logrus.Fields{"doc": documentName}).WithError(err).Warn("dropping undecodable delta")
			continue
		}
		b.Doc.ApplyRemoteSnapshot(origin, snapshot)
	}
}

// Close unregisters the observer and closes the bound collaborators. It
// does not delete persisted data — that is a separate, explicit
// operation by document name.
func (b *Binding) Close() error {
	if b.unregister != nil {
		b.unregister()
	}
	var errs []error
	if b.Persistence != nil {
		if err := b.Persistence.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.Transport != nil {
		if err := b.Transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("docbind: close %v", errs)
}
