package actions

import (
	"database/sql"

	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// ApplyMemoryEdit proposes (or, with AutoApprove, immediately applies) a
// memory surgery directive.
func ApplyMemoryEdit(db *sql.DB, tenantID string, actor models.Actor, in *store.EditInput) (*models.MemoryEdit, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	e, err := store.ProposeEdit(db, tenantID, actor, in)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "propose_memory_edit", in.TargetID, err.Error())
		return nil, err
	}
	return e, nil
}

// ApproveEdit applies a pending edit from its applied_at forward.
func ApproveEdit(db *sql.DB, tenantID string, actor models.Actor, editID string) (*models.MemoryEdit, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if editID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "edit id is required")
	}
	e, err := store.ApproveEdit(db, tenantID, actor, editID, actor.ID)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "approve_memory_edit", editID, err.Error())
		return nil, err
	}
	return e, nil
}

// RejectEdit declines a pending edit; it never affects reads.
func RejectEdit(db *sql.DB, tenantID string, actor models.Actor, editID string) (*models.MemoryEdit, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if editID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "edit id is required")
	}
	e, err := store.RejectEdit(db, tenantID, actor, editID, actor.ID)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "reject_memory_edit", editID, err.Error())
		return nil, err
	}
	return e, nil
}

// ListEdits returns memory edits newest first.
func ListEdits(db *sql.DB, tenantID string, f store.EditFilter) ([]*models.MemoryEdit, error) {
	if f.TargetType != "" && !f.TargetType.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown edit target type: %q", f.TargetType)
	}
	return store.ListEdits(db, tenantID, f)
}
