package scheduler

import (
	"context"
	"time"
)

// Clock abstracts wall-clock reads and cancellable sleeps so scheduling
// behaviour (boundary alignment, missed-wake recovery) can be exercised in
// tests with simulated time.
type Clock interface {
	Now() time.Time
	// Sleep blocks for the duration or until the context is cancelled, in
	// which case it returns the context's error.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock returns a Clock backed by the real wall clock.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
