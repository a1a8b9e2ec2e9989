// Package actions validates and orchestrates operations on top of the store
// layer. Commands call actions, never the store directly. Failed mutations
// leave a best-effort audit row with outcome=error.
package actions

import (
	"database/sql"

	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

func requireActor(actor models.Actor) error {
	if !actor.Type.Valid() || actor.ID == "" {
		return models.Errf(models.KindInvalidArgument, "actor type and id are required")
	}
	return nil
}

// RecordEvent appends one event and its derived chunks.
func RecordEvent(db *sql.DB, tenantID string, in *store.EventInput) (*store.RecordResult, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	res, err := store.RecordEvent(db, tenantID, in)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, in.Actor, "record_event", "", err.Error())
		return nil, err
	}
	return res, nil
}

// GetEvent returns one event by id.
func GetEvent(db *sql.DB, tenantID, eventID string) (*models.Event, error) {
	if eventID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "event id is required")
	}
	return store.GetEvent(db, tenantID, eventID)
}

// ListEvents pages a session's events newest first. The (cursor, cursorID)
// pair comes from the previous page's next_cursor fields.
func ListEvents(db *sql.DB, tenantID, sessionID string, limit int, cursor int64, cursorID string) (*store.EventPage, error) {
	return store.ListEvents(db, tenantID, sessionID, limit, cursor, cursorID)
}
