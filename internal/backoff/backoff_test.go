package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("rate limited")

func TestSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{Initial: time.Millisecond, Attempts: 5}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil { t.Fatal(err) }
	if calls != 3 { t.Fatalf("calls = %d, want 3", calls) }
}

func TestExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{Initial: time.Millisecond, Attempts: 5}, func(ctx context.Context) error {
		calls++
		return errTransient
	})
	if calls != 5 { t.Fatalf("calls = %d, want 5", calls) }
	if !errors.Is(err, ErrAttemptsExhausted) { t.Fatalf("err = %v, want ErrAttemptsExhausted", err) }
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Options{
		Initial:   time.Millisecond,
		Attempts:  5,
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
	}, func(ctx context.Context) error {
		calls++
		return fatal
	})
	if calls != 1 { t.Fatalf("calls = %d, want 1", calls) }
	if !errors.Is(err, fatal) { t.Fatalf("err = %v, want the original error", err) }
}

func TestDelaysGrowAndCap(t *testing.T) {
	max := 8 * time.Millisecond
	var delays []time.Duration
	_ = Do(context.Background(), Options{
		Initial:  time.Millisecond,
		Max:      max,
		Attempts: 6,
		OnWait:   func(attempt int, d time.Duration) { delays = append(delays, d) },
	}, func(ctx context.Context) error { return errTransient })
	if len(delays) != 5 { t.Fatalf("waits = %d, want 5", len(delays)) }
	if delays[0] != time.Millisecond { t.Fatalf("first delay = %v, want 1ms", delays[0]) }
	for i := 1; i < len(delays); i++ {
		// doubling with 0.85 jitter still grows until the cap
		if delays[i] < delays[i-1] && delays[i-1] != max {
			t.Fatalf("delay shrank before cap: %v", delays)
		}
		if delays[i] > max { t.Fatalf("delay %v above cap %v", delays[i], max) }
	}
}

func TestContextCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() { time.Sleep(5 * time.Millisecond); cancel() }()
	err := Do(ctx, Options{Initial: time.Second, Attempts: 3}, func(ctx context.Context) error {
		return errTransient
	})
	if !errors.Is(err, context.Canceled) { t.Fatalf("err = %v, want context.Canceled", err) }
}
