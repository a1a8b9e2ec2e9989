package actions

import (
	"database/sql"

	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// RegisterArtifact records a content-addressed blob reference; re-registering
// the same hash returns the existing row.
func RegisterArtifact(db *sql.DB, tenantID string, actor models.Actor, contentHash, contentType string, sizeBytes int64) (*models.Artifact, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	a, err := store.RegisterArtifact(db, tenantID, actor, contentHash, contentType, sizeBytes)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "register_artifact", "", err.Error())
		return nil, err
	}
	return a, nil
}

// GetArtifact returns one artifact by id.
func GetArtifact(db *sql.DB, tenantID, artifactID string) (*models.Artifact, error) {
	if artifactID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "artifact id is required")
	}
	return store.GetArtifact(db, tenantID, artifactID)
}
