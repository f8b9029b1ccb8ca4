package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/metrics"
)

// KeySweeper is an in-memory keyed store whose idle keys can be evicted
type KeySweeper interface {
	Sweep() int
	Len() int
}

// EventSweeper drops events and alerts past their retention
type EventSweeper interface {
	Sweep() (events int, alerts int)
	EventCount() int
	TrackedFailureIPs() int
}

// CleanupManager periodically evicts idle limiter counters, idle activity logs
// and expired security events so memory stays bounded by recent traffic.
type CleanupManager struct {
	limiter  KeySweeper
	activity KeySweeper
	monitor  EventSweeper
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	limiter KeySweeper,
	activity KeySweeper,
	monitor EventSweeper,
	m *metrics.Metrics,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		limiter:  limiter,
		activity: activity,
		monitor:  monitor,
		metrics:  m,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task and blocks until ctx is done or Stop is called
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps every store once and publishes the remaining sizes
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	start := time.Now()

	counters := cm.limiter.Sweep()
	logs := cm.activity.Sweep()
	events, alerts := cm.monitor.Sweep()

	cm.metrics.SetTrackedKeys("limiter", cm.limiter.Len())
	cm.metrics.SetTrackedKeys("activity", cm.activity.Len())
	cm.metrics.SetTrackedKeys("events", cm.monitor.EventCount())
	cm.metrics.SetTrackedKeys("auth_failures", cm.monitor.TrackedFailureIPs())

	if counters+logs+events+alerts > 0 {
		cm.logger.InfoContext(ctx, "admission state cleanup completed",
			slog.Int("counters_removed", counters),
			slog.Int("activity_logs_removed", logs),
			slog.Int("events_removed", events),
			slog.Int("alerts_removed", alerts),
			slog.Duration("took", time.Since(start)))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
