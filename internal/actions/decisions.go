package actions

import (
	"database/sql"

	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// CreateDecision appends a ledger entry, optionally superseding a prior one.
func CreateDecision(db *sql.DB, tenantID string, actor models.Actor, in *store.DecisionInput) (*models.Decision, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	d, err := store.RecordDecision(db, tenantID, actor, in)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "record_decision", in.SupersedesID, err.Error())
		return nil, err
	}
	return d, nil
}

// SupersedeDecision replaces an active decision with a new one in a single
// transaction.
func SupersedeDecision(db *sql.DB, tenantID string, actor models.Actor, predecessorID string, in *store.DecisionInput) (*models.Decision, error) {
	if predecessorID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "predecessor decision id is required")
	}
	in.SupersedesID = predecessorID
	return CreateDecision(db, tenantID, actor, in)
}

// GetDecision returns one ledger entry.
func GetDecision(db *sql.DB, tenantID, decisionID string) (*models.Decision, error) {
	if decisionID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "decision id is required")
	}
	return store.GetDecision(db, tenantID, decisionID)
}

// GetActiveDecisions resolves the effective active decisions for a subject by
// scope precedence.
func GetActiveDecisions(db *sql.DB, tenantID string, f store.ActiveDecisionsFilter, channel models.Channel, includeQuarantined bool) ([]*store.EffectiveDecision, error) {
	return store.ActiveDecisions(db, tenantID, f, store.ReadOptions{
		Channel:            channel,
		IncludeQuarantined: includeQuarantined,
	})
}

// GetDecisionChain walks the supersession chain backwards, newest first.
func GetDecisionChain(db *sql.DB, tenantID, decisionID string) ([]*models.Decision, error) {
	if decisionID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "decision id is required")
	}
	return store.DecisionChain(db, tenantID, decisionID, 0)
}
