package pubsub

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

func newTestBus(t *testing.T) *RedisBus {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewRedisBus(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestRedisBusRoundtrip(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)
	defer bus.Close()

	channel := QuizChannel("demo")
	ch, cancel, err := bus.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	payload := map[string]any{"value": 39}
	if err := bus.Publish(ctx, channel, domain.Success(domain.StepCountdown, payload)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-ch:
		if env.Step != domain.StepCountdown {
			t.Fatalf("expected countdown step, got %q", env.Step)
		}
		body, ok := env.Payload.(map[string]any)
		if !ok || body["value"] != float64(39) {
			t.Fatalf("unexpected payload: %#v", env.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope delivered")
	}
}

func TestRedisBusSubscriberCount(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)
	defer bus.Close()

	channel := QuizChannel("demo")
	if n, err := bus.SubscriberCount(ctx, channel); err != nil || n != 0 {
		t.Fatalf("expected 0 subscribers, got %d (%v)", n, err)
	}

	_, cancel, err := bus.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if n, err := bus.SubscriberCount(ctx, channel); err != nil || n != 1 {
		t.Fatalf("expected 1 subscriber, got %d (%v)", n, err)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := bus.SubscriberCount(ctx, channel)
		if err == nil && n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count never dropped to 0, last %d (%v)", n, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
