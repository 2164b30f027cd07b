package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DeviceSweeper deactivates trusted devices past their window
type DeviceSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// ChallengeSweeper removes spent or expired MFA challenges
type ChallengeSweeper interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// CounterSweeper removes failure counters that can no longer lock anyone out
type CounterSweeper interface {
	DeleteIdle(ctx context.Context, before, now time.Time) (int64, error)
}

// CleanupConfig controls how long stale rows are retained
type CleanupConfig struct {
	Interval           time.Duration
	ChallengeRetention time.Duration
	CounterRetention   time.Duration
}

// CleanupManager periodically sweeps expired trust grants, challenges and counters
type CleanupManager struct {
	devices    DeviceSweeper
	challenges ChallengeSweeper
	counters   CounterSweeper
	config     CleanupConfig
	logger     *slog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	now        func() time.Time
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	devices DeviceSweeper,
	challenges ChallengeSweeper,
	counters CounterSweeper,
	config CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.ChallengeRetention <= 0 {
		config.ChallengeRetention = 24 * time.Hour
	}
	if config.CounterRetention <= 0 {
		config.CounterRetention = 24 * time.Hour
	}
	return &CleanupManager{
		devices:    devices,
		challenges: challenges,
		counters:   counters,
		config:     config,
		logger:     logger,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start runs a sweep immediately and then on every tick until stopped
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.config.Interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep. A failing step is logged and does not
// prevent the remaining steps from running.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()

	if cm.devices != nil {
		cm.report("trusted_devices", func() (int64, error) {
			return cm.devices.SweepExpired(cleanupCtx)
		})
	}
	if cm.challenges != nil {
		cm.report("mfa_challenges", func() (int64, error) {
			return cm.challenges.DeleteStale(cleanupCtx, now.Add(-cm.config.ChallengeRetention))
		})
	}
	if cm.counters != nil {
		cm.report("failure_counters", func() (int64, error) {
			return cm.counters.DeleteIdle(cleanupCtx, now.Add(-cm.config.CounterRetention), now)
		})
	}
}

func (cm *CleanupManager) report(table string, sweep func() (int64, error)) {
	rows, err := sweep()
	if err != nil {
		cm.logger.Error("cleanup failed", slog.String("table", table), slog.Any("error", err))
		return
	}
	if rows > 0 {
		cm.logger.Info("cleanup completed", slog.String("table", table), slog.Int64("rows", rows))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
