package db

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// runRetentionOnce performs a single pass of retention cleanup,
// deleting any audit events whose ExpiresAt is in the past.
func runRetentionOnce(ctx context.Context, gdb *gorm.DB, now time.Time) (int64, error) {
	res := gdb.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&LicenseEvent{})
	return res.RowsAffected, res.Error
}

// StartRetentionWorker launches a background goroutine that runs the
// retention cleanup once at startup and then once per day until ctx is done.
func StartRetentionWorker(ctx context.Context, gdb *gorm.DB, log *slog.Logger) {
	go func() {
		if n, err := runRetentionOnce(ctx, gdb, time.Now()); err != nil {
			log.Error("retention cleanup failed (startup)", "error", err)
		} else if n > 0 {
			log.Info("retention cleanup", "deleted", n)
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				if n, err := runRetentionOnce(ctx, gdb, t); err != nil {
					log.Error("retention cleanup failed", "error", err)
				} else if n > 0 {
					log.Info("retention cleanup", "deleted", n)
				}
			}
		}
	}()
}
