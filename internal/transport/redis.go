package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBus publishes/subscribes over one Redis channel per document
// name, prefixed to avoid collisions with other consumers of the same
// Redis instance.
type RedisBus struct {
	client        *redis.Client
	channelPrefix string
}

// NewRedisBus wraps an already-configured *redis.Client.
func NewRedisBus(client *redis.Client, channelPrefix string) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = "emsync"
	}
	return &RedisBus{client: client, channelPrefix: channelPrefix}
}

func (b *RedisBus) channel(name string) string {
	return fmt.Sprintf("%s:%s", b.channelPrefix, name)
}

// Open subscribes to name's channel and returns a bound Transport,
// self-filtered for localOrigin.
func (b *RedisBus) Open(ctx context.Context, name string, localOrigin string) (Transport, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(name))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("transport: redis subscribe %s: %w", name, err)
	}
	return &redisTransport{bus: b, name: name, localOrigin: localOrigin, pubsub: pubsub}, nil
}

type redisWireMessage struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

type redisTransport struct {
	bus         *RedisBus
	name        string
	localOrigin string
	pubsub      *redis.PubSub
}

func (t *redisTransport) Publish(ctx context.Context, delta Delta) error {
	payload, err := json.Marshal(redisWireMessage{Origin: delta.Origin, Data: delta.Data})
	if err != nil {
		return fmt.Errorf("transport: encode delta for %s: %w", t.name, err)
	}
	if err := t.bus.client.Publish(ctx, t.bus.channel(t.name), payload).Err(); err != nil {
		return fmt.Errorf("transport: redis publish %s: %w", t.name, err)
	}
	return nil
}

func (t *redisTransport) Next(ctx context.Context) (Delta, error) {
	ch := t.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return Delta{}, fmt.Errorf("transport: redis channel %s closed", t.name)
			}
			var wire redisWireMessage
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				return Delta{}, fmt.Errorf("transport: decode delta for %s: %w", t.name, err)
			}
			if wire.Origin == t.localOrigin {
				continue // Redis pub/sub delivers to the publishing subscriber too
			}
			return Delta{Origin: wire.Origin, Data: wire.Data}, nil
		case <-ctx.Done():
			return Delta{}, ctx.Err()
		}
	}
}

func (t *redisTransport) Close() error {
	if err := t.pubsub.Close(); err != nil {
		return fmt.Errorf("transport: close redis subscription %s: %w", t.name, err)
	}
	return nil
}
