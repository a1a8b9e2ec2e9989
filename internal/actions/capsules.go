package actions

import (
	"database/sql"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// CreateCapsule curates a bundle of memory for an audience with a TTL.
func CreateCapsule(db *sql.DB, tenantID string, actor models.Actor, in *store.CapsuleInput) (*models.Capsule, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if in.AuthorAgentID == "" {
		in.AuthorAgentID = actor.ID
	}
	cfg := app.EffectiveConfig()
	c, err := store.CreateCapsule(db, tenantID, actor, in, cfg.CapsuleTTLMinDays, cfg.CapsuleTTLMaxDays)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "create_capsule", "", err.Error())
		return nil, err
	}
	return c, nil
}

// ListCapsules returns the active capsules visible to an agent.
func ListCapsules(db *sql.DB, tenantID, agentID, subjectType, subjectID string) ([]*models.Capsule, error) {
	return store.AvailableCapsules(db, tenantID, agentID, subjectType, subjectID)
}

// GetCapsule opens a capsule for an agent in its audience, expanding items.
func GetCapsule(db *sql.DB, tenantID, capsuleID, agentID string, channel models.Channel) (*store.OpenedCapsule, error) {
	if capsuleID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "capsule id is required")
	}
	if agentID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "agent id is required")
	}
	return store.OpenCapsule(db, tenantID, capsuleID, agentID, channel)
}

// RevokeCapsule revokes a capsule; only its author may do so.
func RevokeCapsule(db *sql.DB, tenantID string, actor models.Actor, capsuleID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if capsuleID == "" {
		return models.Errf(models.KindInvalidArgument, "capsule id is required")
	}
	if err := store.RevokeCapsule(db, tenantID, actor, capsuleID); err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "revoke_capsule", capsuleID, err.Error())
		return err
	}
	return nil
}
