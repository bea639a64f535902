package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTTLWorkerInterval is how often the TTL worker sweeps for inactive users.
const DefaultTTLWorkerInterval = 30 * time.Minute

// StartTTLWorker runs a background goroutine that periodically deletes users
// idle for longer than ttl together with their credentials, documents and
// flow runs. It stops when ctx is done.
func StartTTLWorker(ctx context.Context, repo Repository, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTTLWorkerInterval
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepInactiveUsers(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepInactiveUsers(ctx context.Context, repo Repository, ttl time.Duration) int64 {
	deleted, err := repo.DeleteInactiveUsers(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to delete inactive users", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("TTL worker removed inactive users", "count", deleted, "ttl", ttl)
	}
	return deleted
}
