package core

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Initial doubled per attempt, capped at
// Max, plus up to a quarter of the delay as jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	d := b.Max
	if attempt < 30 {
		if exp := b.Initial * time.Duration(1<<attempt); exp > 0 && (b.Max <= 0 || exp < b.Max) {
			d = exp
		}
	}
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/4+1)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
