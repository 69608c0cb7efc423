package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// sweepTimeout bounds a single cleanup run
const sweepTimeout = 30 * time.Second

// Sweeper deletes expired rows from one store
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired and revoked tokens from the database
type CleanupManager struct {
	sweepers map[string]Sweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	group    singleflight.Group
}

// NewCleanupManager creates a new cleanup manager. sweepers is keyed by the
// name logged with each result.
func NewCleanupManager(sweepers map[string]Sweeper, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweepers: sweepers,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task and blocks until Stop or ctx ends
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunNow(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunNow sweeps every store once and returns the rows deleted per store.
// Concurrent callers share a single in-flight run.
func (cm *CleanupManager) RunNow(ctx context.Context) map[string]int64 {
	v, _, _ := cm.group.Do("sweep", func() (interface{}, error) {
		return cm.runCleanup(ctx), nil
	})
	return v.(map[string]int64)
}

func (cm *CleanupManager) runCleanup(ctx context.Context) map[string]int64 {
	cleanupCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	deleted := make(map[string]int64, len(cm.sweepers))
	for name, sweeper := range cm.sweepers {
		rows, err := sweeper.CleanupExpired(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to cleanup expired tokens", slog.String("store", name), slog.Any("error", err))
			continue
		}
		deleted[name] = rows
		if rows > 0 {
			cm.logger.Info("expired token cleanup completed", slog.String("store", name), slog.Int64("rows_deleted", rows))
		}
	}
	return deleted
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
