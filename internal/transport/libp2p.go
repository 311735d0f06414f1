package transport

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
)

// LibP2PBus is a gossip-based remote transport for direct
// device-to-device sync, one gossipsub topic per document name.
type LibP2PBus struct {
	host host.Host
	ps   *pubsub.PubSub
}

// NewLibP2PBus starts a libp2p host listening on listenAddr (e.g.
// "/ip4/0.0.0.0/tcp/0") and its gossipsub router.
func NewLibP2PBus(ctx context.Context, listenAddr string) (*LibP2PBus, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.DisableRelay(),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: create libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: create gossipsub: %w", err)
	}
	return &LibP2PBus{host: h, ps: ps}, nil
}

// Connect dials a known peer's multiaddr, used to join the workspace
// swarm before any document topics are subscribed.
func (b *LibP2PBus) Connect(ctx context.Context, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("transport: parse multiaddr %s: %w", addr, err)
	}
	info, err := peerAddrInfo(maddr)
	if err != nil {
		return fmt.Errorf("transport: resolve peer info for %s: %w", addr, err)
	}
	if err := b.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("transport: connect to %s: %w", addr, err)
	}
	return nil
}

// Open joins the gossipsub topic named after the document name and
// returns a bound, self-filtered Transport.
func (b *LibP2PBus) Open(ctx context.Context, name string, localOrigin string) (Transport, error) {
	topic, err := b.ps.Join(topicName(name))
	if err != nil {
		return nil, fmt.Errorf("transport: join topic %s: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("transport: subscribe topic %s: %w", name, err)
	}
	return &libp2pTransport{
		host: b.host, topic: topic, sub: sub,
		name: name, localOrigin: localOrigin,
	}, nil
}

// Close shuts down the underlying host and its pubsub router.
func (b *LibP2PBus) Close() error {
	if err := b.host.Close(); err != nil {
		return fmt.Errorf("transport: close libp2p host: %w", err)
	}
	return nil
}

func topicName(documentName string) string { return "emsync/" + documentName }

type libp2pTransport struct {
	host        host.Host
	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	name        string
	localOrigin string
}

func (t *libp2pTransport) Publish(ctx context.Context, delta Delta) error {
	data, err := encodeWire(delta)
	if err != nil {
		return fmt.Errorf("transport: encode delta for %s: %w", t.name, err)
	}
	if err := t.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("transport: publish %s: %w", t.name, err)
	}
	return nil
}

// Next blocks for the next message on the topic not published by this
// host — gossipsub's own router can loop a locally-published message
// back to the publishing peer, so the check is on the wire delta's
// origin, not just ReceivedFrom, which alone would misbehave with more
// than one remote peer.
func (t *libp2pTransport) Next(ctx context.Context) (Delta, error) {
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			return Delta{}, fmt.Errorf("transport: next on %s: %w", t.name, err)
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		delta, err := decodeWire(msg.Data)
		if err != nil {
			return Delta{}, fmt.Errorf("transport: decode delta for %s: %w", t.name, err)
		}
		if delta.Origin == t.localOrigin {
			continue
		}
		return delta, nil
	}
}

func (t *libp2pTransport) Close() error {
	t.sub.Cancel()
	if err := t.topic.Close(); err != nil {
		return fmt.Errorf("transport: close topic %s: %w", t.name, err)
	}
	return nil
}
