package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

const chunkColumns = `id, tenant_id, event_id, session_id, ts, kind, channel, sensitivity,
       tags, text, token_est, importance, scope, subject_type, subject_id, project_id`

// chunksByIDs loads base chunk rows for the given ids, preserving request
// order. Unknown ids are silently skipped.
func chunksByIDs(q Querier, tenantID string, chunkIDs []string) ([]models.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(chunkIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(chunkIDs)+1)
	args = append(args, tenantID)
	for _, id := range chunkIDs {
		args = append(args, id)
	}

	rows, err := q.Query(`
		SELECT `+chunkColumns+`
		FROM chunks
		WHERE tenant_id = ? AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]models.Chunk, len(chunkIDs))
	for rows.Next() {
		c, scanErr := scanChunkRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", scanErr)
		}
		byID[c.ID] = *c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Chunk, 0, len(byID))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// TimelineEntry is one chunk in a timeline window, annotated with its
// signed distance in seconds from the anchor chunk.
type TimelineEntry struct {
	Chunk           *models.EffectiveChunk `json:"chunk"`
	DistanceSeconds int64                  `json:"distance_seconds"`
}

// Timeline returns the effective chunks of the anchor's session within the
// given window around the anchor, ordered by ts ascending. The anchor itself
// is included when still visible.
func Timeline(q Querier, tenantID, chunkID string, windowSeconds int64, opts ReadOptions) ([]TimelineEntry, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if windowSeconds <= 0 {
		windowSeconds = 600
	}

	var (
		anchorTs      int64
		anchorSession string
	)
	err := q.QueryRow(`
		SELECT ts, session_id FROM chunks WHERE id = ? AND tenant_id = ?
	`, chunkID, tenantID).Scan(&anchorTs, &anchorSession)
	if err == sql.ErrNoRows {
		return nil, models.Errf(models.KindNotFound, "chunk not found: %s", chunkID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve timeline anchor: %w", err)
	}

	windowMicros := windowSeconds * 1_000_000
	rows, err := q.Query(`
		SELECT `+chunkColumns+`
		FROM chunks
		WHERE tenant_id = ? AND session_id = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC, id ASC
	`, tenantID, anchorSession, anchorTs-windowMicros, anchorTs+windowMicros)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline window: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var base []models.Chunk
	for rows.Next() {
		c, scanErr := scanChunkRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", scanErr)
		}
		base = append(base, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	visible, _, err := effectiveChunks(q, tenantID, base, opts)
	if err != nil {
		return nil, err
	}

	entries := make([]TimelineEntry, 0, len(visible))
	for _, eff := range visible {
		entries = append(entries, TimelineEntry{
			Chunk:           eff,
			DistanceSeconds: (eff.Ts.UnixMicro() - anchorTs) / 1_000_000,
		})
	}
	return entries, nil
}

// SessionChunks returns the effective chunks of one session ordered by ts
// ascending, capped at limit (0 means no cap). Used by the bundle builder
// for the recent-activity section and by wake-up.
func SessionChunks(q Querier, tenantID, sessionID string, limit int, opts ReadOptions) ([]*models.EffectiveChunk, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "session_id is required")
	}

	query := `
		SELECT ` + chunkColumns + `
		FROM chunks
		WHERE tenant_id = ? AND session_id = ?
		ORDER BY ts DESC, id DESC
	`
	args := []any{tenantID, sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var base []models.Chunk
	for rows.Next() {
		c, scanErr := scanChunkRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", scanErr)
		}
		base = append(base, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first for presentation.
	for i, j := 0, len(base)-1; i < j; i, j = i+1, j-1 {
		base[i], base[j] = base[j], base[i]
	}

	visible, _, err := effectiveChunks(q, tenantID, base, opts)
	return visible, err
}

func scanChunkRow(row rowScanner) (*models.Chunk, error) {
	var (
		c           models.Chunk
		ts          int64
		kind        string
		channel     string
		sensitivity string
		tags        string
		scope       sql.NullString
		subjectType sql.NullString
		subjectID   sql.NullString
		projectID   sql.NullString
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.EventID, &c.SessionID, &ts, &kind, &channel, &sensitivity,
		&tags, &c.Text, &c.TokenEst, &c.Importance, &scope, &subjectType, &subjectID, &projectID)
	if err != nil {
		return nil, err
	}

	c.Ts = microsToTime(ts)
	c.Kind = models.EventKind(kind)
	c.Channel = models.Channel(channel)
	c.Sensitivity = models.Sensitivity(sensitivity)
	c.Tags = decodeStrings(tags)
	c.Scope = models.ScopeKind(scanNullString(scope))
	c.SubjectType = scanNullString(subjectType)
	c.SubjectID = scanNullString(subjectID)
	c.ProjectID = scanNullString(projectID)
	return &c, nil
}
