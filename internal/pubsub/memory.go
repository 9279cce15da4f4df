package pubsub

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// MemoryBus is an in-process Bus for tests and single-node deployments.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan domain.Envelope]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan domain.Envelope]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, env domain.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- env:
		default:
			// Slow subscribers drop envelopes; delivery is best-effort.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (<-chan domain.Envelope, func(), error) {
	ch := make(chan domain.Envelope, 64)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan domain.Envelope]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], ch)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (b *MemoryBus) SubscriberCount(_ context.Context, channel string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel]), nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subs {
		for ch := range subs {
			close(ch)
		}
		delete(b.subs, channel)
	}
	return nil
}
