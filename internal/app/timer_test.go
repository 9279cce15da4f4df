package app

import (
	"sync"
	"testing"
	"time"
)

func TestCountdownTicksDownToZero(t *testing.T) {
	registry := NewTimerRegistry(2 * time.Millisecond)
	defer registry.Dispose("demo")

	var mu sync.Mutex
	var ticks []int
	done := make(chan struct{})

	registry.StartCountdown("demo", 40,
		func(remaining int) {
			mu.Lock()
			ticks = append(ticks, remaining)
			mu.Unlock()
		},
		func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("countdown never finished")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 40 {
		t.Fatalf("expected exactly 40 ticks, got %d", len(ticks))
	}
	for i, v := range ticks {
		if want := 39 - i; v != want {
			t.Fatalf("tick %d: expected %d, got %d", i, want, v)
		}
	}
	if registry.Remaining("demo") != -1 {
		t.Fatalf("expected remaining cleared, got %d", registry.Remaining("demo"))
	}
}

func TestCountdownUntimedSchedulesNothing(t *testing.T) {
	registry := NewTimerRegistry(time.Millisecond)
	defer registry.Dispose("demo")

	registry.StartCountdown("demo", 0,
		func(int) { t.Error("untimed question must not tick") },
		func() { t.Error("untimed question must not finish") })

	time.Sleep(20 * time.Millisecond)
	if registry.Remaining("demo") != -1 {
		t.Fatalf("expected no timer, got %d", registry.Remaining("demo"))
	}
}

func TestCountdownRestartCancelsPrevious(t *testing.T) {
	registry := NewTimerRegistry(2 * time.Millisecond)
	defer registry.Dispose("demo")

	first := make(chan int, 100)
	registry.StartCountdown("demo", 1000, func(v int) { first <- v }, func() {})
	registry.StartCountdown("demo", 3, func(int) {}, func() {})

	// Drain whatever the first countdown managed to emit, then make sure it
	// stays silent.
	time.Sleep(30 * time.Millisecond)
	drained := len(first)
	time.Sleep(30 * time.Millisecond)
	if len(first) != drained {
		t.Fatal("first countdown kept ticking after restart")
	}
}

func TestCancelCountdownStopsTicks(t *testing.T) {
	registry := NewTimerRegistry(2 * time.Millisecond)
	defer registry.Dispose("demo")

	ticks := make(chan int, 100)
	registry.StartCountdown("demo", 1000, func(v int) { ticks <- v }, func() {})
	registry.CancelCountdown("demo")

	time.Sleep(20 * time.Millisecond)
	n := len(ticks)
	time.Sleep(20 * time.Millisecond)
	if len(ticks) != n {
		t.Fatal("countdown kept ticking after cancel")
	}
	if registry.Remaining("demo") != -1 {
		t.Fatalf("expected remaining cleared, got %d", registry.Remaining("demo"))
	}
}

func TestEmptyStrikeNeedsTwoConsecutivePolls(t *testing.T) {
	registry := NewTimerRegistry(time.Millisecond)
	registry.Init("demo")
	defer registry.Dispose("demo")

	if registry.StrikeEmpty("demo") {
		t.Fatal("first strike must not trigger")
	}
	if !registry.StrikeEmpty("demo") {
		t.Fatal("second consecutive strike must trigger")
	}

	registry.ClearEmpty("demo")
	if registry.StrikeEmpty("demo") {
		t.Fatal("strike after a clear must start over")
	}
}
