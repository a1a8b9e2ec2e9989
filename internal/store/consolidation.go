package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// StartConsolidationJob opens a job row and returns its run id. The row is
// finalized by FinishConsolidationJob even when the run fails.
func StartConsolidationJob(db *sql.DB) (string, error) {
	id := uuid.NewString()
	err := Transact(db, func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`
			INSERT INTO consolidation_jobs (id, started_ts, status) VALUES (?, ?, 'running')
		`, id, nowMicros())
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to start consolidation job: %w", err)
	}
	return id, nil
}

// ConsolidationCounters is what one run accomplished.
type ConsolidationCounters struct {
	TenantsRefreshed   int
	CapsulesExpired    int64
	ReflectionsWritten int
	AuditRowsPruned    int64
}

// FinishConsolidationJob closes the job row with its counters and outcome.
func FinishConsolidationJob(db *sql.DB, jobID string, c ConsolidationCounters, runErr error) error {
	status := "ok"
	var lastErr any
	if runErr != nil {
		status = "error"
		lastErr = runErr.Error()
	}
	return Transact(db, func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`
			UPDATE consolidation_jobs
			SET finished_ts = ?, status = ?, tenants_refreshed = ?, capsules_expired = ?,
			    reflections_written = ?, audit_rows_pruned = ?, last_error = ?
			WHERE id = ?
		`, nowMicros(), status, c.TenantsRefreshed, c.CapsulesExpired,
			c.ReflectionsWritten, c.AuditRowsPruned, lastErr, jobID)
		return execErr
	})
}

// LastConsolidationJob returns the most recent job row, or NotFound when the
// worker has never run.
func LastConsolidationJob(q Querier) (*models.ConsolidationJob, error) {
	row := q.QueryRow(`
		SELECT id, started_ts, finished_ts, status, tenants_refreshed, capsules_expired,
		       reflections_written, audit_rows_pruned, last_error
		FROM consolidation_jobs
		ORDER BY started_ts DESC LIMIT 1
	`)

	var (
		j          models.ConsolidationJob
		startedTs  int64
		finishedTs sql.NullInt64
		lastError  sql.NullString
	)
	err := row.Scan(&j.ID, &startedTs, &finishedTs, &j.Status, &j.TenantsRefreshed,
		&j.CapsulesExpired, &j.ReflectionsWritten, &j.AuditRowsPruned, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "no consolidation runs recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query consolidation job: %w", err)
	}

	j.StartedAt = microsToTime(startedTs)
	j.FinishedAt = scanNullTimeMicros(finishedTs)
	j.LastError = scanNullString(lastError)
	return &j, nil
}

// HandoffTenants lists tenants that have recorded handoffs.
func HandoffTenants(q Querier) ([]string, error) {
	return queryStringColumn(q, `SELECT DISTINCT tenant_id FROM handoffs ORDER BY tenant_id`)
}

// RefreshHandoffAggregates recomputes a tenant's handoff_metadata rows from
// scratch. The incremental UPSERT on the write path keeps them current; this
// full recompute makes the worker self-healing and idempotent.
func RefreshHandoffAggregates(db *sql.DB, tenantID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return Transact(db, func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT with_whom, COUNT(*), MIN(ts), MAX(ts), SUM(significance),
			       SUM(CASE WHEN significance >= ? THEN 1 ELSE 0 END)
			FROM handoffs
			WHERE tenant_id = ?
			GROUP BY with_whom
		`, highSignificanceThreshold, tenantID)
		if err != nil {
			return fmt.Errorf("failed to aggregate handoffs: %w", err)
		}

		type agg struct {
			withWhom        string
			count, highs    int
			firstTs, lastTs int64
			sigSum          float64
		}
		var aggs []agg
		for rows.Next() {
			var a agg
			if scanErr := rows.Scan(&a.withWhom, &a.count, &a.firstTs, &a.lastTs, &a.sigSum, &a.highs); scanErr != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan aggregate: %w", scanErr)
			}
			aggs = append(aggs, a)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		now := nowMicros()
		for _, a := range aggs {
			tags, tagErr := tenantHandoffTags(tx, tenantID, a.withWhom)
			if tagErr != nil {
				return tagErr
			}
			_, execErr := tx.Exec(`
				INSERT INTO handoff_metadata (tenant_id, with_whom, session_count, first_session_ts,
				                              last_session_ts, significance_sum, high_significance_count,
				                              key_people, all_tags, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (tenant_id, with_whom) DO UPDATE SET
					session_count = excluded.session_count,
					first_session_ts = excluded.first_session_ts,
					last_session_ts = excluded.last_session_ts,
					significance_sum = excluded.significance_sum,
					high_significance_count = excluded.high_significance_count,
					key_people = excluded.key_people,
					all_tags = excluded.all_tags,
					updated_at = excluded.updated_at
			`, tenantID, a.withWhom, a.count, a.firstTs, a.lastTs, a.sigSum, a.highs,
				encodeStrings([]string{a.withWhom}), encodeStrings(tags), now)
			if execErr != nil {
				return fmt.Errorf("failed to refresh aggregate for %s: %w", a.withWhom, execErr)
			}
		}
		return nil
	})
}

func tenantHandoffTags(q Querier, tenantID, withWhom string) ([]string, error) {
	tags, err := queryStringColumn(q, `
		SELECT DISTINCT json_each.value
		FROM handoffs, json_each(handoffs.tags)
		WHERE handoffs.tenant_id = ? AND handoffs.with_whom = ?
		ORDER BY json_each.value
	`, tenantID, withWhom)
	if err != nil {
		return nil, fmt.Errorf("failed to collect handoff tags: %w", err)
	}
	return tags, nil
}

// WriteReflections produces cached extractive insights for relationships
// with at least minHandoffs handoffs. Insights are drawn from the most
// significant handoffs' learned/noticed fields, at most
// reflectionInsightLimit per relationship, with provenance back to the
// source handoff ids. Existing reflections are replaced only when new
// handoffs arrived since they were written.
func WriteReflections(db *sql.DB, tenantID string, minHandoffs int) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	if minHandoffs <= 0 {
		minHandoffs = 5
	}

	written := 0
	err := Transact(db, func(tx *sql.Tx) error {
		whoms, err := queryStringColumn(tx, `
			SELECT with_whom FROM handoffs
			WHERE tenant_id = ?
			GROUP BY with_whom
			HAVING COUNT(*) >= ?
		`, tenantID, minHandoffs)
		if err != nil {
			return fmt.Errorf("failed to list reflection candidates: %w", err)
		}

		for _, withWhom := range whoms {
			stale, staleErr := reflectionStale(tx, tenantID, withWhom)
			if staleErr != nil {
				return staleErr
			}
			if !stale {
				continue
			}

			insights, sourceIDs, buildErr := buildReflection(tx, tenantID, withWhom)
			if buildErr != nil {
				return buildErr
			}
			if len(insights) == 0 {
				continue
			}

			_, execErr := tx.Exec(`
				INSERT INTO reflections (tenant_id, with_whom, insights, source_handoff_ids, handoff_count, created_ts)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (tenant_id, with_whom) DO UPDATE SET
					insights = excluded.insights,
					source_handoff_ids = excluded.source_handoff_ids,
					handoff_count = excluded.handoff_count,
					created_ts = excluded.created_ts
			`, tenantID, withWhom, encodeStrings(insights), encodeStrings(sourceIDs), len(sourceIDs), nowMicros())
			if execErr != nil {
				return fmt.Errorf("failed to write reflection for %s: %w", withWhom, execErr)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// reflectionStale reports whether handoffs newer than the cached reflection
// exist (or no reflection exists at all).
func reflectionStale(q Querier, tenantID, withWhom string) (bool, error) {
	var createdTs int64
	err := q.QueryRow(`
		SELECT created_ts FROM reflections WHERE tenant_id = ? AND with_whom = ?
	`, tenantID, withWhom).Scan(&createdTs)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query reflection age: %w", err)
	}

	var newer int
	err = q.QueryRow(`
		SELECT COUNT(*) FROM handoffs WHERE tenant_id = ? AND with_whom = ? AND ts > ?
	`, tenantID, withWhom, createdTs).Scan(&newer)
	if err != nil {
		return false, fmt.Errorf("failed to count new handoffs: %w", err)
	}
	return newer > 0, nil
}

// reflectionSourceLimit caps how many handoffs feed one reflection;
// reflectionInsightLimit caps how many synthesized insights it keeps.
const (
	reflectionSourceLimit  = 10
	reflectionInsightLimit = 5
)

func buildReflection(q Querier, tenantID, withWhom string) ([]string, []string, error) {
	rows, err := q.Query(`
		SELECT id, learned, noticed, becoming FROM handoffs
		WHERE tenant_id = ? AND with_whom = ?
		ORDER BY significance DESC, ts DESC
		LIMIT ?
	`, tenantID, withWhom, reflectionSourceLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load reflection sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		insights  []string
		sourceIDs []string
		seen      = map[string]struct{}{}
	)
	add := func(s string) {
		if len(insights) >= reflectionInsightLimit {
			return
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		insights = append(insights, s)
	}

	for rows.Next() {
		var id, learned, noticed, becoming string
		if scanErr := rows.Scan(&id, &learned, &noticed, &becoming); scanErr != nil {
			return nil, nil, fmt.Errorf("failed to scan reflection source: %w", scanErr)
		}
		sourceIDs = append(sourceIDs, id)
		add(learned)
		add(noticed)
		add(becoming)
	}
	return insights, sourceIDs, rows.Err()
}

// GetReflection returns the cached reflection for a relationship.
func GetReflection(q Querier, tenantID, withWhom string) (*models.Reflection, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var (
		r         models.Reflection
		insights  string
		sourceIDs string
		createdTs int64
	)
	err := q.QueryRow(`
		SELECT tenant_id, with_whom, insights, source_handoff_ids, handoff_count, created_ts
		FROM reflections
		WHERE tenant_id = ? AND with_whom = ?
	`, tenantID, withWhom).Scan(&r.TenantID, &r.WithWhom, &insights, &sourceIDs, &r.HandoffCount, &createdTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "no reflection for: %s", withWhom)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reflection: %w", err)
	}

	r.Insights = decodeStrings(insights)
	r.SourceHandoffIDs = decodeStrings(sourceIDs)
	r.CreatedAt = microsToTime(createdTs)
	return &r, nil
}
