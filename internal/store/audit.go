package store

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// Audit outcomes.
const (
	AuditOutcomeOK    = "ok"
	AuditOutcomeError = "error"
)

// appendAuditTx writes one audit row inside an existing transaction. Every
// authenticated mutation gets one, success or failure; the audit log is
// never read on the hot path.
func appendAuditTx(q Querier, tenantID string, actor models.Actor, op, target, outcome string, metadata map[string]string) error {
	var meta any
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err == nil {
			meta = string(b)
		}
	}

	_, err := q.Exec(`
		INSERT INTO audit_log (tenant_id, trace_id, actor_type, actor_id, op, target, outcome, ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tenantID, uuid.NewString(), string(actor.Type), actor.ID, op, nullableText(target), outcome, nowMicros(), meta)
	return err
}

// AppendAuditFailure records a failed mutation outside the (rolled back)
// transaction. Best-effort: an audit write failure is logged, not surfaced.
func AppendAuditFailure(db Querier, tenantID string, actor models.Actor, op, target, reason string) {
	err := appendAuditTx(db, tenantID, actor, op, target, AuditOutcomeError, map[string]string{"reason": reason})
	if err != nil {
		slog.Error("audit write failed", "op", op, "tenant_id", tenantID, "error", err.Error())
	}
}

// PruneAuditBefore deletes audit rows older than the cutoff (retention policy).
// Returns the number of rows removed.
func PruneAuditBefore(q Querier, cutoffMicros int64, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	res, err := q.Exec(`
		DELETE FROM audit_log
		WHERE id IN (
			SELECT id FROM audit_log WHERE ts < ? LIMIT ?
		)
	`, cutoffMicros, batch)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
