package retry

import (
	"context"
	"errors"
	"time"

	"catalogsync/internal/catalog"

	"github.com/cenkalti/backoff/v4"
)

// Policy is an exponential backoff with jitter and a bounded number of retries.
type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter randomizes each wait by +/- this fraction.
	Jitter float64

	newTimer func() backoff.Timer
}

func Default() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// WithTimer returns a copy of the policy that waits on timers made by `newTimer`.
func (p Policy) WithTimer(newTimer func() backoff.Timer) Policy {
	p.newTimer = newTimer
	return p
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	// the attempt budget bounds retries, not the elapsed time
	b.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Notify is called before waiting for the next attempt.
type Notify func(attempt int, err error, wait time.Duration)

// Do runs `op` until it succeeds, fails with an error wrapping
// catalog.ErrFetchPermanent, or the retry budget runs out. The error of the
// last attempt is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if errors.Is(err, catalog.ErrFetchPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}

	var backoffNotify backoff.Notify
	if notify != nil {
		backoffNotify = func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}
	}

	var timer backoff.Timer
	if p.newTimer != nil {
		timer = p.newTimer()
	}
	return backoff.RetryNotifyWithTimer(operation, p.backoff(ctx), backoffNotify, timer)
}
