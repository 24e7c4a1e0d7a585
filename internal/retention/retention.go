// Package retention runs the scheduled purge of superseded message
// versions and terminal call records. Current conversation rows are
// never touched; soft deletes stay tombstoned forever.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"teamwire/pkg/config"
	"teamwire/pkg/logger"
	"teamwire/pkg/store"
)

const defaultCron = "0 2 * * *"

// Start launches the purge scheduler when enabled. The returned cancel
// stops it.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	if cfg.Period.Duration() <= 0 {
		return nil, fmt.Errorf("retention period must be positive")
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period.Duration().String())
	return cancel, nil
}

// runScheduler sleeps until each next cron tick and triggers a run.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce purges everything older than the configured period. Exposed
// so operators can trigger a run out of schedule.
func RunOnce(cfg config.RetentionConfig) error {
	cutoff := time.Now().UTC().Add(-cfg.Period.Duration()).UnixNano()
	batch := cfg.BatchSize

	versions, err := store.PurgeMessageVersionsBefore(cutoff, batch)
	if err != nil {
		return fmt.Errorf("purge message versions: %w", err)
	}
	calls, err := store.PurgeCallRecordsBefore(cutoff, batch)
	if err != nil {
		return fmt.Errorf("purge call records: %w", err)
	}
	logger.Info("retention_run_complete", "versions_purged", versions, "calls_purged", calls)
	return nil
}
