package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted marks an operation that kept failing with retryable
// errors through every allowed attempt.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Options controls the retry loop. Zero values take the defaults: 1s initial
// delay, 5m ceiling, 5 attempts, retry every error.
type Options struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
	// Retryable decides whether an error is worth another attempt. Errors it
	// rejects propagate immediately.
	Retryable func(error) bool
	// OnWait observes each pause before a retry.
	OnWait func(attempt int, d time.Duration)
}

func (o Options) withDefaults() Options {
	if o.Initial <= 0 {
		o.Initial = time.Second
	}
	if o.Max <= 0 {
		o.Max = 5 * time.Minute
	}
	if o.Attempts <= 0 {
		o.Attempts = 5
	}
	return o
}

// Do runs op up to Attempts times, doubling the delay between attempts with
// +/-15% jitter, never above Max. A non-retryable error returns as is; running
// out of attempts returns the last error wrapped with ErrAttemptsExhausted.
func Do(ctx context.Context, opts Options, op func(context.Context) error) error {
	opts = opts.withDefaults()
	delay := opts.Initial
	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return err
		}
		lastErr = err
		if attempt == opts.Attempts {
			break
		}
		if opts.OnWait != nil {
			opts.OnWait(attempt, delay)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		// 0.85 .. 1.15
		jitter := 0.85 + rand.Float64()*0.3
		delay = time.Duration(float64(delay) * 2 * jitter)
		if delay > opts.Max {
			delay = opts.Max
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, opts.Attempts, lastErr)
}
