package pubsub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// RedisBus fans envelopes out through Redis pub/sub so that every backend
// process attached to a quiz channel sees every event, regardless of which
// process published it. go-redis re-establishes dropped connections and
// resubscribes on its own, so publishers never re-check channel existence.
type RedisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan domain.Envelope, func(), error) {
	ps := b.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning so that
	// SubscriberCount observes it immediately.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	out := make(chan domain.Envelope, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var env domain.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("pubsub: dropping malformed envelope on %s: %v", channel, err)
				continue
			}
			select {
			case out <- env:
			default:
				// Slow subscribers drop envelopes; delivery is best-effort.
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}

// SubscriberCount asks Redis how many connections are subscribed to the
// channel across all processes. A transport error is returned as-is so the
// watchdog can treat it as "no information".
func (b *RedisBus) SubscriberCount(ctx context.Context, channel string) (int, error) {
	counts, err := b.client.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, err
	}
	return int(counts[channel]), nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	for ps := range b.subs {
		_ = ps.Close()
		delete(b.subs, ps)
	}
	b.mu.Unlock()
	return b.client.Close()
}
