package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DeleteOlderThan deletes samples and events whose timestamp is strictly
// before the cutoff. A row exactly at the cutoff is kept. Returns the total
// number of deleted rows.
func (d *DB) DeleteOlderThan(before time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %w", ErrUnavailable, err)
	}

	var total int64
	// Table names come from this fixed list; placeholders cannot bind
	// identifiers.
	for _, table := range []string{"power_samples", "high_power_events"} {
		res, err := tx.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table),
			before.UnixMilli(),
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("%w: delete from %s: %w", ErrUnavailable, table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	return total, nil
}

// PruneOlderThan deletes everything older than retention before now.
func (d *DB) PruneOlderThan(retention time.Duration) (int64, error) {
	return d.DeleteOlderThan(d.now().Add(-retention))
}

// CleanupSettings is read before every cleanup pass so config reloads
// apply without a restart.
type CleanupSettings func() (retention, interval time.Duration)

// RunCleanup prunes once immediately and then on every interval until ctx
// is done.
func (d *DB) RunCleanup(ctx context.Context, settings CleanupSettings, logger *slog.Logger) {
	for {
		retention, interval := settings()
		deleted, err := d.PruneOlderThan(retention)
		if err != nil {
			logger.Error("cleanup failed", "err", err)
		} else if deleted > 0 {
			logger.Info("cleaned up old rows", "deleted", deleted, "retention", retention)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
