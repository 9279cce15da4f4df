package app

import (
	"sync"
	"time"
)

// TimerRegistry owns the process-local, ephemeral timer state of every quiz:
// the countdown remaining value, the cancellable countdown handle, the
// empty-quiz watchdog handle and its two-strike flag. State here is never
// persisted; it is rebuilt at boot from the stored quiz documents.
type TimerRegistry struct {
	tick time.Duration // countdown tick interval

	mu     sync.Mutex
	timers map[string]*quizTimer
}

type quizTimer struct {
	remaining     int // seconds, -1 = no active countdown
	stopCountdown chan struct{}
	stopWatchdog  chan struct{}
	isEmpty       bool
}

// NewTimerRegistry builds a registry ticking at the given interval. Production
// uses one second; tests shrink it.
func NewTimerRegistry(tick time.Duration) *TimerRegistry {
	if tick <= 0 {
		tick = time.Second
	}
	return &TimerRegistry{tick: tick, timers: make(map[string]*quizTimer)}
}

// Init seeds an empty timer record for a quiz. Idempotent.
func (r *TimerRegistry) Init(quizName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[quizName]; !ok {
		r.timers[quizName] = &quizTimer{remaining: -1}
	}
}

// Remaining reports the seconds left on the quiz countdown, -1 if none.
func (r *TimerRegistry) Remaining(quizName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[quizName]; ok {
		return t.remaining
	}
	return -1
}

// StartCountdown cancels any outstanding countdown for the quiz and schedules
// a new one. Each tick decrements the stored value and invokes onTick with it;
// when it reaches 0 the tick cancels itself and onDone runs once. A
// non-positive seconds value schedules nothing (untimed question).
func (r *TimerRegistry) StartCountdown(quizName string, seconds int, onTick func(remaining int), onDone func()) {
	r.mu.Lock()
	t, ok := r.timers[quizName]
	if !ok {
		t = &quizTimer{remaining: -1}
		r.timers[quizName] = t
	}
	if t.stopCountdown != nil {
		close(t.stopCountdown)
		t.stopCountdown = nil
	}
	if seconds <= 0 {
		t.remaining = -1
		r.mu.Unlock()
		return
	}
	t.remaining = seconds
	stop := make(chan struct{})
	t.stopCountdown = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.mu.Lock()
				if t.stopCountdown != stop {
					// Cancelled or replaced between the tick firing and the
					// lock; this goroutine no longer owns the countdown.
					r.mu.Unlock()
					return
				}
				t.remaining--
				remaining := t.remaining
				done := remaining <= 0
				if done {
					t.stopCountdown = nil
					t.remaining = -1
				}
				r.mu.Unlock()
				onTick(remaining)
				if done {
					onDone()
					return
				}
			}
		}
	}()
}

// CancelCountdown stops the quiz countdown if one is running.
func (r *TimerRegistry) CancelCountdown(quizName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[quizName]
	if !ok {
		return
	}
	if t.stopCountdown != nil {
		close(t.stopCountdown)
		t.stopCountdown = nil
	}
	t.remaining = -1
}

// StartWatchdog schedules poll on a fixed interval until the quiz is disposed.
// Restarting replaces the previous watchdog.
func (r *TimerRegistry) StartWatchdog(quizName string, interval time.Duration, poll func()) {
	r.mu.Lock()
	t, ok := r.timers[quizName]
	if !ok {
		t = &quizTimer{remaining: -1}
		r.timers[quizName] = t
	}
	if t.stopWatchdog != nil {
		close(t.stopWatchdog)
	}
	stop := make(chan struct{})
	t.stopWatchdog = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				poll()
			}
		}
	}()
}

// StrikeEmpty records an empty poll. It returns true when this is the second
// consecutive strike, i.e. the quiz should be deactivated.
func (r *TimerRegistry) StrikeEmpty(quizName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[quizName]
	if !ok {
		return false
	}
	if t.isEmpty {
		return true
	}
	t.isEmpty = true
	return false
}

// ClearEmpty resets the two-strike flag after a poll found subscribers.
func (r *TimerRegistry) ClearEmpty(quizName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[quizName]; ok {
		t.isEmpty = false
	}
}

// Dispose cancels the countdown and watchdog and drops the record.
func (r *TimerRegistry) Dispose(quizName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[quizName]
	if !ok {
		return
	}
	if t.stopCountdown != nil {
		close(t.stopCountdown)
	}
	if t.stopWatchdog != nil {
		close(t.stopWatchdog)
	}
	delete(r.timers, quizName)
}
