package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

const editColumns = `id, tenant_id, ts, target_type, target_id, op, reason, proposed_by,
       approved_by, status, patch, applied_at`

// EditInput carries the caller-supplied fields of propose_memory_edit.
type EditInput struct {
	TargetType models.EditTargetType
	TargetID   string
	Op         models.EditOp
	Reason     string
	ProposedBy string
	Patch      models.EditPatch

	// AutoApprove applies the edit immediately under the proposer's own
	// authority, skipping the pending state.
	AutoApprove bool
}

func validateEditPatch(op models.EditOp, p models.EditPatch) error {
	switch op {
	case models.EditOpAmend:
		if p.Text == nil && p.Importance == nil {
			return models.Errf(models.KindInvalidArgument, "amend requires text and/or importance")
		}
	case models.EditOpAttenuate:
		if p.Importance == nil && p.ImportanceDelta == nil {
			return models.Errf(models.KindInvalidArgument, "attenuate requires importance or importance_delta")
		}
		if p.Importance != nil && (*p.Importance < 0 || *p.Importance > 1) {
			return models.Errf(models.KindInvalidArgument, "importance must be in [0,1]")
		}
	case models.EditOpBlock:
		if !p.Channel.Valid() {
			return models.Errf(models.KindInvalidArgument, "block requires a channel")
		}
	case models.EditOpRetract, models.EditOpQuarantine:
		// no patch fields
	}
	return nil
}

// ProposeEdit appends a memory edit directive. The target must exist; the
// edit starts pending unless AutoApprove is set, in which case it is approved
// and stamped applied in the same transaction.
func ProposeEdit(db *sql.DB, tenantID string, actor models.Actor, in *EditInput) (*models.MemoryEdit, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if !in.TargetType.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown edit target type: %q", in.TargetType)
	}
	if !in.Op.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown edit op: %q", in.Op)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, models.Errf(models.KindInvalidArgument, "reason is required")
	}
	if in.ProposedBy == "" {
		in.ProposedBy = actor.ID
	}
	if err := validateEditPatch(in.Op, in.Patch); err != nil {
		return nil, err
	}

	var result *models.MemoryEdit
	err := Transact(db, func(tx *sql.Tx) error {
		if err := editTargetExistsTx(tx, tenantID, in.TargetType, in.TargetID); err != nil {
			return err
		}

		id := generatePrefixedID(idPrefixEdit)
		ts := nowMicros()
		status := models.EditPending
		var approvedBy any
		var appliedAt any
		if in.AutoApprove {
			status = models.EditApproved
			approvedBy = in.ProposedBy
			appliedAt = ts
		}

		patchJSON, err := json.Marshal(in.Patch)
		if err != nil {
			return fmt.Errorf("failed to encode edit patch: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO memory_edits (id, tenant_id, ts, target_type, target_id, op, reason,
			                          proposed_by, approved_by, status, patch, applied_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, tenantID, ts, string(in.TargetType), in.TargetID, string(in.Op), in.Reason,
			in.ProposedBy, approvedBy, string(status), string(patchJSON), appliedAt)
		if err != nil {
			return fmt.Errorf("failed to insert edit: %w", err)
		}

		if auditErr := appendAuditTx(tx, tenantID, actor, "propose_memory_edit", id, AuditOutcomeOK, map[string]string{
			"op":     string(in.Op),
			"target": in.TargetID,
		}); auditErr != nil {
			return fmt.Errorf("failed to write audit row: %w", auditErr)
		}

		result = &models.MemoryEdit{
			ID:         id,
			TenantID:   tenantID,
			Ts:         microsToTime(ts),
			TargetType: in.TargetType,
			TargetID:   in.TargetID,
			Op:         in.Op,
			Reason:     in.Reason,
			ProposedBy: in.ProposedBy,
			Status:     status,
			Patch:      in.Patch,
		}
		if in.AutoApprove {
			result.ApprovedBy = in.ProposedBy
			t := microsToTime(ts)
			result.AppliedAt = &t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func editTargetExistsTx(tx *sql.Tx, tenantID string, targetType models.EditTargetType, targetID string) error {
	var table string
	switch targetType {
	case models.EditTargetChunk:
		table = "chunks"
	case models.EditTargetDecision:
		table = "decisions"
	case models.EditTargetCapsule:
		table = "capsules"
	}
	var one int
	err := tx.QueryRow(`SELECT 1 FROM `+table+` WHERE id = ? AND tenant_id = ?`, targetID, tenantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Errf(models.KindNotFound, "edit target not found: %s", targetID)
	}
	if err != nil {
		return fmt.Errorf("failed to validate edit target: %w", err)
	}
	return nil
}

// ApproveEdit transitions a pending edit to approved and stamps applied_at.
// From that moment the edit takes effect on every read.
func ApproveEdit(db *sql.DB, tenantID string, actor models.Actor, editID, approvedBy string) (*models.MemoryEdit, error) {
	return resolveEdit(db, tenantID, actor, editID, approvedBy, models.EditApproved)
}

// RejectEdit transitions a pending edit to rejected. Rejected edits never
// affect reads and stay in the log for audit.
func RejectEdit(db *sql.DB, tenantID string, actor models.Actor, editID, rejectedBy string) (*models.MemoryEdit, error) {
	return resolveEdit(db, tenantID, actor, editID, rejectedBy, models.EditRejected)
}

func resolveEdit(db *sql.DB, tenantID string, actor models.Actor, editID, resolvedBy string, to models.EditStatus) (*models.MemoryEdit, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if resolvedBy == "" {
		resolvedBy = actor.ID
	}

	var result *models.MemoryEdit
	op := "approve_memory_edit"
	if to == models.EditRejected {
		op = "reject_memory_edit"
	}
	err := Transact(db, func(tx *sql.Tx) error {
		cur, getErr := editByIDTx(tx, tenantID, editID)
		if getErr != nil {
			return getErr
		}
		if cur.Status != models.EditPending {
			return models.Errf(models.KindConflict, "edit is not pending: %s", editID)
		}

		now := nowMicros()
		var appliedAt any
		if to == models.EditApproved {
			appliedAt = now
		}
		res, execErr := tx.Exec(`
			UPDATE memory_edits SET status = ?, approved_by = ?, applied_at = ?
			WHERE id = ? AND tenant_id = ? AND status = ?
		`, string(to), resolvedBy, appliedAt, editID, tenantID, string(models.EditPending))
		if execErr != nil {
			return fmt.Errorf("failed to resolve edit: %w", execErr)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return models.Errf(models.KindConflict, "edit changed concurrently: %s", editID)
		}

		if auditErr := appendAuditTx(tx, tenantID, actor, op, editID, AuditOutcomeOK, nil); auditErr != nil {
			return fmt.Errorf("failed to write audit row: %w", auditErr)
		}

		cur.Status = to
		cur.ApprovedBy = resolvedBy
		if to == models.EditApproved {
			t := microsToTime(now)
			cur.AppliedAt = &t
		}
		result = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EditFilter narrows list_memory_edits.
type EditFilter struct {
	TargetType models.EditTargetType
	TargetID   string
	Status     models.EditStatus
	Limit      int
}

// ListEdits returns memory edits newest first.
func ListEdits(q Querier, tenantID string, f EditFilter) ([]*models.MemoryEdit, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + editColumns + ` FROM memory_edits WHERE tenant_id = ?`
	args := []any{tenantID}
	if f.TargetType != "" {
		query += ` AND target_type = ?`
		args = append(args, string(f.TargetType))
	}
	if f.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, f.TargetID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list edits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.MemoryEdit
	for rows.Next() {
		e, scanErr := scanEditRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", scanErr)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func editByIDTx(q Querier, tenantID, editID string) (*models.MemoryEdit, error) {
	row := q.QueryRow(`SELECT `+editColumns+` FROM memory_edits WHERE id = ? AND tenant_id = ?`,
		editID, tenantID)
	e, err := scanEditRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "edit not found: %s", editID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query edit: %w", err)
	}
	return e, nil
}

func scanEditRow(row rowScanner) (*models.MemoryEdit, error) {
	var (
		e          models.MemoryEdit
		ts         int64
		targetType string
		op         string
		approvedBy sql.NullString
		status     string
		patch      string
		appliedAt  sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.TenantID, &ts, &targetType, &e.TargetID, &op, &e.Reason,
		&e.ProposedBy, &approvedBy, &status, &patch, &appliedAt)
	if err != nil {
		return nil, err
	}

	e.Ts = microsToTime(ts)
	e.TargetType = models.EditTargetType(targetType)
	e.Op = models.EditOp(op)
	e.ApprovedBy = scanNullString(approvedBy)
	e.Status = models.EditStatus(status)
	if patch != "" {
		_ = json.Unmarshal([]byte(patch), &e.Patch)
	}
	e.AppliedAt = scanNullTimeMicros(appliedAt)
	return &e, nil
}
