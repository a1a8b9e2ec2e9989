package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/callin2/agent-memory-sub006/internal/chunker"
	"github.com/callin2/agent-memory-sub006/internal/models"
)

// Event payload size constraints enforced by ValidateEventInput.
const (
	MaxEventContentBytes = 64 * 1024
	MaxEventRefs         = 64
	MaxEventTags         = 32
	MaxTagLength         = 128
)

// EventInput carries the caller-supplied fields of record_event.
type EventInput struct {
	SessionID   string
	Channel     models.Channel
	Actor       models.Actor
	Kind        models.EventKind
	Sensitivity models.Sensitivity
	Tags        []string
	Content     json.RawMessage
	Refs        []string
	Scope       models.ScopeKind
	SubjectType string
	SubjectID   string
	ProjectID   string
}

// RecordResult is the output of record_event.
type RecordResult struct {
	EventID  string   `json:"event_id"`
	Ts       int64    `json:"ts"`
	ChunkIDs []string `json:"chunk_ids"`
}

// ValidateEventInput enforces event constraints before any row is written.
func ValidateEventInput(in *EventInput) error {
	if strings.TrimSpace(in.SessionID) == "" {
		return models.Errf(models.KindInvalidArgument, "session_id is required")
	}
	if !in.Channel.Valid() {
		return models.Errf(models.KindInvalidArgument, "unknown channel: %q", in.Channel)
	}
	if !in.Actor.Type.Valid() || in.Actor.ID == "" {
		return models.Errf(models.KindInvalidArgument, "actor type and id are required")
	}
	if !in.Kind.Valid() {
		return models.Errf(models.KindInvalidArgument, "unknown event kind: %q", in.Kind)
	}
	if in.Sensitivity == "" {
		in.Sensitivity = models.SensitivityNone
	}
	if !in.Sensitivity.Valid() {
		return models.Errf(models.KindInvalidArgument, "unknown sensitivity: %q", in.Sensitivity)
	}
	if in.Scope != "" && !in.Scope.Valid() {
		return models.Errf(models.KindInvalidArgument, "unknown scope: %q", in.Scope)
	}
	if len(in.Content) == 0 {
		return models.Errf(models.KindInvalidArgument, "content is required")
	}
	if len(in.Content) > MaxEventContentBytes {
		return models.Errf(models.KindInvalidArgument, "content exceeds max size (%d bytes)", MaxEventContentBytes)
	}
	if !json.Valid(in.Content) {
		return models.Errf(models.KindInvalidArgument, "content must be valid JSON")
	}
	if len(in.Refs) > MaxEventRefs {
		return models.Errf(models.KindInvalidArgument, "too many refs (max %d)", MaxEventRefs)
	}
	if len(in.Tags) > MaxEventTags {
		return models.Errf(models.KindInvalidArgument, "too many tags (max %d)", MaxEventTags)
	}
	for _, tag := range in.Tags {
		if tag == "" || len(tag) > MaxTagLength {
			return models.Errf(models.KindInvalidArgument, "invalid tag: %q", tag)
		}
	}
	return nil
}

// RecordEvent validates, persists the event, derives its chunks, and writes
// the audit row in one transaction. Either everything commits or nothing
// does, so an event is never visible without its chunks.
func RecordEvent(db *sql.DB, tenantID string, in *EventInput) (*RecordResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateEventInput(in); err != nil {
		return nil, err
	}

	var result *RecordResult
	err := Transact(db, func(tx *sql.Tx) error {
		r, txErr := recordEventTx(tx, tenantID, in)
		if txErr != nil {
			return txErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func recordEventTx(tx *sql.Tx, tenantID string, in *EventInput) (*RecordResult, error) {
	if err := validateRefsTx(tx, tenantID, in.Refs); err != nil {
		return nil, err
	}

	eventID := generatePrefixedID(idPrefixEvent)
	ts := nowMicros()

	_, err := tx.Exec(`
		INSERT INTO events (id, tenant_id, session_id, ts, channel, actor_type, actor_id,
		                    kind, sensitivity, tags, content, refs, scope, subject_type, subject_id, project_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, tenantID, in.SessionID, ts, string(in.Channel), string(in.Actor.Type), in.Actor.ID,
		string(in.Kind), string(in.Sensitivity), encodeStrings(in.Tags), string(in.Content),
		encodeStrings(in.Refs), nullableText(string(in.Scope)), nullableText(in.SubjectType),
		nullableText(in.SubjectID), nullableText(in.ProjectID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	ev := &models.Event{
		ID:          eventID,
		TenantID:    tenantID,
		SessionID:   in.SessionID,
		Ts:          microsToTime(ts),
		Channel:     in.Channel,
		Actor:       in.Actor,
		Kind:        in.Kind,
		Sensitivity: in.Sensitivity,
		Tags:        in.Tags,
		Content:     in.Content,
		Refs:        in.Refs,
		Scope:       in.Scope,
		SubjectType: in.SubjectType,
		SubjectID:   in.SubjectID,
		ProjectID:   in.ProjectID,
	}

	derived, err := chunker.Derive(ev)
	if err != nil {
		return nil, err
	}

	chunkIDs := make([]string, 0, len(derived))
	for _, d := range derived {
		chunkID := generatePrefixedID(idPrefixChunk)
		_, err := tx.Exec(`
			INSERT INTO chunks (id, tenant_id, event_id, session_id, ts, kind, channel, sensitivity,
			                    tags, text, token_est, importance, scope, subject_type, subject_id, project_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, chunkID, tenantID, eventID, in.SessionID, ts, string(in.Kind), string(in.Channel),
			string(in.Sensitivity), encodeStrings(in.Tags), d.Text, d.TokenEst, d.Importance,
			nullableText(string(in.Scope)), nullableText(in.SubjectType),
			nullableText(in.SubjectID), nullableText(in.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk: %w", err)
		}
		chunkIDs = append(chunkIDs, chunkID)
	}

	if err := appendAuditTx(tx, tenantID, in.Actor, "record_event", eventID, AuditOutcomeOK, map[string]string{
		"kind":   string(in.Kind),
		"chunks": fmt.Sprintf("%d", len(chunkIDs)),
	}); err != nil {
		return nil, fmt.Errorf("failed to write audit row: %w", err)
	}

	return &RecordResult{EventID: eventID, Ts: ts, ChunkIDs: chunkIDs}, nil
}

// validateRefsTx rejects refs that do not resolve to prior events of the
// same tenant. Dangling refs fail with a precise error.
func validateRefsTx(tx *sql.Tx, tenantID string, refs []string) error {
	for _, ref := range refs {
		var one int
		err := tx.QueryRow(`SELECT 1 FROM events WHERE id = ? AND tenant_id = ?`, ref, tenantID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Errf(models.KindIntegrity, "ref does not resolve: %s", ref).
				WithContext("ref", ref)
		}
		if err != nil {
			return fmt.Errorf("failed to validate ref %s: %w", ref, err)
		}
	}
	return nil
}

// GetEvent returns one event by id, tenant-checked.
func GetEvent(q Querier, tenantID, eventID string) (*models.Event, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	row := q.QueryRow(`
		SELECT id, tenant_id, session_id, ts, channel, actor_type, actor_id, kind, sensitivity,
		       tags, content, refs, scope, subject_type, subject_id, project_id
		FROM events
		WHERE id = ? AND tenant_id = ?
	`, eventID, tenantID)

	ev, err := scanEventRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "event not found: %s", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query event: %w", err)
	}
	return ev, nil
}

// SessionExists reports whether any event was recorded under the session.
func SessionExists(q Querier, tenantID, sessionID string) (bool, error) {
	if err := requireTenant(tenantID); err != nil {
		return false, err
	}
	var one int
	err := q.QueryRow(`SELECT 1 FROM events WHERE tenant_id = ? AND session_id = ? LIMIT 1`,
		tenantID, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return true, nil
}

// EventPage is one page of list_events results, newest first. The cursor is
// the (ts, id) pair of the last row; ts alone cannot separate events that
// committed within the same microsecond.
type EventPage struct {
	Events       []*models.Event `json:"events"`
	NextCursor   int64           `json:"next_cursor,omitempty"`
	NextCursorID string          `json:"next_cursor_id,omitempty"`
}

// ListEvents pages a session's events by (ts desc, id desc). cursor and
// cursorID are the exclusive upper bound; cursor 0 means "from the newest".
func ListEvents(q Querier, tenantID, sessionID string, limit int, cursor int64, cursorID string) (*EventPage, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "session_id is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, session_id, ts, channel, actor_type, actor_id, kind, sensitivity,
		       tags, content, refs, scope, subject_type, subject_id, project_id
		FROM events
		WHERE tenant_id = ? AND session_id = ?
	`
	args := []any{tenantID, sessionID}
	if cursor > 0 {
		if cursorID != "" {
			query += ` AND (ts < ? OR (ts = ? AND id < ?))`
			args = append(args, cursor, cursor, cursorID)
		} else {
			query += ` AND ts < ?`
			args = append(args, cursor)
		}
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := &EventPage{}
	for rows.Next() {
		ev, scanErr := scanEventRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan event: %w", scanErr)
		}
		page.Events = append(page.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Events) == limit {
		last := page.Events[len(page.Events)-1]
		page.NextCursor = last.Ts.UnixMicro()
		page.NextCursorID = last.ID
	}
	return page, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventRow(row rowScanner) (*models.Event, error) {
	var (
		ev          models.Event
		ts          int64
		channel     string
		actorType   string
		kind        string
		sensitivity string
		tags        string
		content     string
		refs        string
		scope       sql.NullString
		subjectType sql.NullString
		subjectID   sql.NullString
		projectID   sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.TenantID, &ev.SessionID, &ts, &channel, &actorType, &ev.Actor.ID,
		&kind, &sensitivity, &tags, &content, &refs, &scope, &subjectType, &subjectID, &projectID)
	if err != nil {
		return nil, err
	}

	ev.Ts = microsToTime(ts)
	ev.Channel = models.Channel(channel)
	ev.Actor.Type = models.ActorType(actorType)
	ev.Kind = models.EventKind(kind)
	ev.Sensitivity = models.Sensitivity(sensitivity)
	ev.Tags = decodeStrings(tags)
	ev.Content = json.RawMessage(content)
	ev.Refs = decodeStrings(refs)
	ev.Scope = models.ScopeKind(scanNullString(scope))
	ev.SubjectType = scanNullString(subjectType)
	ev.SubjectID = scanNullString(subjectID)
	ev.ProjectID = scanNullString(projectID)
	return &ev, nil
}
