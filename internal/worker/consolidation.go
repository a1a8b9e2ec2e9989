// Package worker runs the background consolidation loop: refresh wake-up
// aggregates, expire capsules, cache reflections, and enforce retention.
// Worker failures are logged and recorded on the job row; they never affect
// request paths.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// Consolidator owns the periodic maintenance passes.
type Consolidator struct {
	db  *sql.DB
	cfg app.Config
}

// New returns a consolidator over the given database.
func New(db *sql.DB, cfg app.Config) *Consolidator {
	return &Consolidator{db: db, cfg: cfg}
}

// Run executes passes on the configured interval until ctx is cancelled.
// The first pass runs immediately.
func (c *Consolidator) Run(ctx context.Context) error {
	interval := time.Duration(c.cfg.ConsolidationIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.RunOnce(ctx); err != nil {
			slog.Error("consolidation pass failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single consolidation pass. Every step is idempotent, so
// an interrupted pass is simply finished by the next one.
func (c *Consolidator) RunOnce(ctx context.Context) error {
	jobID, err := store.StartConsolidationJob(c.db)
	if err != nil {
		return err
	}
	started := time.Now()

	var counters store.ConsolidationCounters
	passErr := c.pass(ctx, &counters)

	if finErr := store.FinishConsolidationJob(c.db, jobID, counters, passErr); finErr != nil {
		slog.Error("failed to finalize consolidation job", "job_id", jobID, "error", finErr.Error())
	}

	slog.Info("consolidation pass finished",
		"job_id", jobID,
		"duration_ms", time.Since(started).Milliseconds(),
		"tenants_refreshed", counters.TenantsRefreshed,
		"capsules_expired", counters.CapsulesExpired,
		"reflections_written", counters.ReflectionsWritten,
		"audit_rows_pruned", counters.AuditRowsPruned,
		"ok", passErr == nil)
	return passErr
}

func (c *Consolidator) pass(ctx context.Context, counters *store.ConsolidationCounters) error {
	expired, err := store.ExpireCapsules(c.db, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("capsule expiry: %w", err)
	}
	counters.CapsulesExpired = expired

	tenants, err := store.HandoffTenants(c.db)
	if err != nil {
		return fmt.Errorf("tenant listing: %w", err)
	}

	// Per-tenant refresh fans out under a small limit; SQLite serializes the
	// writes anyway, the group just keeps one slow tenant from hiding errors
	// in another.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	results := make([]int, len(tenants))
	for i, tenant := range tenants {
		i, tenant := i, tenant
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if refreshErr := store.RefreshHandoffAggregates(c.db, tenant); refreshErr != nil {
				return fmt.Errorf("aggregate refresh for %s: %w", tenant, refreshErr)
			}
			written, reflErr := store.WriteReflections(c.db, tenant, c.cfg.ReflectionMinHandoffs)
			if reflErr != nil {
				return fmt.Errorf("reflections for %s: %w", tenant, reflErr)
			}
			results[i] = written
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	counters.TenantsRefreshed = len(tenants)
	for _, written := range results {
		counters.ReflectionsWritten += written
	}

	pruned, err := c.pruneAudit(ctx)
	if err != nil {
		return fmt.Errorf("audit retention: %w", err)
	}
	counters.AuditRowsPruned = pruned
	return nil
}

// pruneAudit deletes audit rows past retention in batches, yielding to
// cancellation between batches.
func (c *Consolidator) pruneAudit(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -c.cfg.RetentionAuditDays).UnixMicro()
	batch := c.cfg.ConsolidationBatchSize

	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := store.PruneAuditBefore(c.db, cutoff, batch)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batch) {
			return total, nil
		}
	}
}
