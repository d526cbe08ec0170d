package retry

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// InstantTimers makes timers that fire immediately while remembering every
// wait they were asked for.
type InstantTimers struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (t *InstantTimers) New() backoff.Timer {
	return &instantTimer{parent: t, c: make(chan time.Time, 1)}
}

func (t *InstantTimers) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.waits))
	copy(out, t.waits)
	return out
}

type instantTimer struct {
	parent *InstantTimers
	c      chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.parent.mu.Lock()
	t.parent.waits = append(t.parent.waits, d)
	t.parent.mu.Unlock()

	select {
	case t.c <- time.Time{}:
	default:
	}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}
