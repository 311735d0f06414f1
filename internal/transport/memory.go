package transport

import (
	"context"
	"sync"
)

// MemoryBus is an in-process pub/sub fabric keyed by document name, the
// default for tests and single-device builds.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan Delta
}

// NewMemoryBus returns an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Delta)}
}

// Open returns a Transport bound to name, self-filtered for localOrigin.
func (b *MemoryBus) Open(ctx context.Context, name string, localOrigin string) (Transport, error) {
	ch := make(chan Delta, 64)
	b.mu.Lock()
	b.subs[name] = append(b.subs[name], ch)
	b.mu.Unlock()
	return &memoryTransport{
		bus: b, name: name, localOrigin: localOrigin,
		inbox: ch, closeCh: make(chan struct{}),
	}, nil
}

type memoryTransport struct {
	bus         *MemoryBus
	name        string
	localOrigin string
	inbox       chan Delta
	closeOnce   sync.Once
	closeCh     chan struct{}
}

func (t *memoryTransport) Publish(ctx context.Context, delta Delta) error {
	t.bus.mu.Lock()
	subs := t.bus.subs[t.name]
	t.bus.mu.Unlock()

	for _, ch := range subs {
		if ch == t.inbox {
			continue // never deliver a publish back to its own inbox
		}
		select {
		case ch <- delta:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *memoryTransport) Next(ctx context.Context) (Delta, error) {
	for {
		select {
		case d := <-t.inbox:
			if d.Origin == t.localOrigin {
				continue
			}
			return d, nil
		case <-ctx.Done():
			return Delta{}, ctx.Err()
		case <-t.closeCh:
			return Delta{}, context.Canceled
		}
	}
}

func (t *memoryTransport) Close() error {
	t.closeOnce.Do(func() {
		t.bus.mu.Lock()
		subs := t.bus.subs[t.name]
		for i, ch := range subs {
			if ch == t.inbox {
				t.bus.subs[t.name] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		t.bus.mu.Unlock()
		close(t.closeCh)
	})
	return nil
}
