package actions

import (
	"database/sql"
	"fmt"

	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// Status reports database health for one tenant.
type Status struct {
	SchemaVersion   int64                    `json:"schema_version"`
	LatestVersion   int64                    `json:"latest_version"`
	TenantID        string                   `json:"tenant_id"`
	Counts          map[string]int64         `json:"counts"`
	LastJob         *models.ConsolidationJob `json:"last_consolidation_job,omitempty"`
	PendingEdits    int64                    `json:"pending_edits"`
	ActiveDecisions int64                    `json:"active_decisions"`
}

// GetStatus returns per-tenant row counts, the schema version, and the last
// consolidation run.
func GetStatus(db *sql.DB, tenantID string) (*Status, error) {
	if tenantID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "tenant id is required")
	}

	current, latest, err := store.SchemaVersion(db)
	if err != nil {
		return nil, err
	}

	st := &Status{
		SchemaVersion: current,
		LatestVersion: latest,
		TenantID:      tenantID,
		Counts:        map[string]int64{},
	}

	for _, table := range []string{
		"events", "chunks", "decisions", "tasks", "memory_edits",
		"capsules", "handoffs", "artifacts",
	} {
		var n int64
		if scanErr := db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE tenant_id = ?`, tenantID).Scan(&n); scanErr != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, scanErr)
		}
		st.Counts[table] = n
	}

	if err := db.QueryRow(`
		SELECT COUNT(*) FROM memory_edits WHERE tenant_id = ? AND status = 'pending'
	`, tenantID).Scan(&st.PendingEdits); err != nil {
		return nil, fmt.Errorf("failed to count pending edits: %w", err)
	}
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM decisions WHERE tenant_id = ? AND status = 'active'
	`, tenantID).Scan(&st.ActiveDecisions); err != nil {
		return nil, fmt.Errorf("failed to count active decisions: %w", err)
	}

	job, err := store.LastConsolidationJob(db)
	if err == nil {
		st.LastJob = job
	} else if !models.IsKind(err, models.KindNotFound) {
		return nil, err
	}
	return st, nil
}
