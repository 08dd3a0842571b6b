// Package cleanup implements Cleanup (spec §4.11): periodically deletes
// finished job rows older than a configured horizon in bounded batches, so
// a single run never holds a long-lived lock or a huge transaction.
// Grounded on the teacher's ScheduledJobScheduler ticker loop
// (consolidated-worker-go/scheduled_jobs_worker.go), reused here for a
// maintenance sweep instead of a due-job check.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/civic-os/dispatchq/internal/store"
)

// DefaultBatchSize bounds how many rows a single delete pass removes (spec
// §4.11).
const DefaultBatchSize = 1000

// Config configures a Cleanup run.
type Config struct {
	Horizon          time.Duration // delete rows finished more than Horizon ago
	BatchSize        int           // default DefaultBatchSize if 0
	IncludeDiscarded bool          // also delete discarded (errored) rows
	Interval         time.Duration // how often Run sweeps; default 1h if 0
}

// Cleanup periodically deletes old finished job rows.
type Cleanup struct {
	store *store.Store
	cfg   Config
	log   *slog.Logger
}

// New builds a Cleanup.
func New(st *store.Store, cfg Config, logger *slog.Logger) *Cleanup {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{store: st, cfg: cfg, log: logger.With("component", "cleanup")}
}

// Run sweeps on Interval until ctx is cancelled.
func (c *Cleanup) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.log.Error("cleanup sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep deletes finished rows older than the configured horizon in
// BatchSize-bounded passes until a pass returns fewer than BatchSize rows,
// returning the total number of rows deleted (spec §4.11: "bounded-batch
// deletion").
func (c *Cleanup) Sweep(ctx context.Context) (int64, error) {
	horizon := time.Now().Add(-c.cfg.Horizon)
	var total int64
	for {
		n, err := c.store.DeleteFinishedBefore(ctx, c.store.Pool(), horizon, c.cfg.BatchSize, c.cfg.IncludeDiscarded)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(c.cfg.BatchSize) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		c.log.Info("cleanup swept finished jobs", "deleted", total)
	}
	return total, nil
}
