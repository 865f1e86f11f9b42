package core

// scheduler.go runs background maintenance.
//
// Progress records carry a time-to-live refreshed on every write. Stores
// that cannot expire rows on their own (Postgres, SQLite, memory) hide
// expired records from reads; the sweeper deletes them. A failed sweep is
// logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartProgressSweeper gets no interval.
const DefaultSweepInterval = 5 * time.Minute

// StartProgressSweeper deletes expired progress records immediately and
// then every interval until ctx is cancelled. It blocks; run it in its own
// goroutine.
func (s *Service) StartProgressSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("progress sweeper started", "interval", interval, "ttl", s.tracker.ttl)

	s.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("progress sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep performs one expiry pass.
func (s *Service) sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.tracker.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("progress sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		slog.Info("expired progress records deleted",
			"records", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
