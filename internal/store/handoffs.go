package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

const handoffColumns = `id, tenant_id, with_whom, session_id, ts, experienced, noticed, learned,
       story, becoming, remember, significance, tags, compression_level, influenced_by`

// highSignificanceThreshold marks a session as memorable for wake-up
// metadata purposes.
const highSignificanceThreshold = 0.8

// HandoffInput carries the caller-supplied fields of create_handoff.
type HandoffInput struct {
	WithWhom         string
	SessionID        string
	Experienced      string
	Noticed          string
	Learned          string
	Story            string
	Becoming         string
	Remember         string
	Significance     float64
	Tags             []string
	CompressionLevel models.CompressionLevel
	InfluencedBy     string
}

// CreateHandoff appends an immutable session reflection and refreshes the
// (tenant, with_whom) wake-up aggregate in the same transaction.
func CreateHandoff(db *sql.DB, tenantID string, actor models.Actor, in *HandoffInput) (*models.Handoff, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.WithWhom) == "" {
		return nil, models.Errf(models.KindInvalidArgument, "with_whom is required")
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, models.Errf(models.KindInvalidArgument, "session_id is required")
	}
	if strings.TrimSpace(in.Experienced) == "" {
		return nil, models.Errf(models.KindInvalidArgument, "experienced is required")
	}
	if in.Significance < 0 || in.Significance > 1 {
		return nil, models.Errf(models.KindInvalidArgument, "significance must be in [0,1]")
	}
	if in.CompressionLevel == "" {
		in.CompressionLevel = models.CompressionFull
	}
	if !in.CompressionLevel.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown compression level: %q", in.CompressionLevel)
	}

	var result *models.Handoff
	err := Transact(db, func(tx *sql.Tx) error {
		id := generatePrefixedID(idPrefixHandoff)
		ts := nowMicros()

		_, execErr := tx.Exec(`
			INSERT INTO handoffs (id, tenant_id, with_whom, session_id, ts, experienced, noticed,
			                      learned, story, becoming, remember, significance, tags,
			                      compression_level, influenced_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, tenantID, in.WithWhom, in.SessionID, ts, in.Experienced, in.Noticed, in.Learned,
			in.Story, in.Becoming, in.Remember, in.Significance, encodeStrings(in.Tags),
			string(in.CompressionLevel), nullableText(in.InfluencedBy))
		if execErr != nil {
			return fmt.Errorf("failed to insert handoff: %w", execErr)
		}

		if err := upsertHandoffMetadataTx(tx, tenantID, in, ts); err != nil {
			return err
		}

		if auditErr := appendAuditTx(tx, tenantID, actor, "create_handoff", id, AuditOutcomeOK, map[string]string{
			"with_whom": in.WithWhom,
		}); auditErr != nil {
			return fmt.Errorf("failed to write audit row: %w", auditErr)
		}

		result = &models.Handoff{
			ID:               id,
			TenantID:         tenantID,
			WithWhom:         in.WithWhom,
			SessionID:        in.SessionID,
			Ts:               microsToTime(ts),
			Experienced:      in.Experienced,
			Noticed:          in.Noticed,
			Learned:          in.Learned,
			Story:            in.Story,
			Becoming:         in.Becoming,
			Remember:         in.Remember,
			Significance:     in.Significance,
			Tags:             in.Tags,
			CompressionLevel: in.CompressionLevel,
			InfluencedBy:     in.InfluencedBy,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// upsertHandoffMetadataTx maintains the per-relationship aggregate
// incrementally so wake-up metadata is a single-row read.
func upsertHandoffMetadataTx(tx *sql.Tx, tenantID string, in *HandoffInput, ts int64) error {
	highInc := 0
	if in.Significance >= highSignificanceThreshold {
		highInc = 1
	}

	cur, err := handoffMetadataRow(tx, tenantID, in.WithWhom)
	if err != nil && !models.IsKind(err, models.KindNotFound) {
		return err
	}

	people := []string{in.WithWhom}
	tags := in.Tags
	if cur != nil {
		people = mergeStringSets(cur.KeyPeople, people)
		tags = mergeStringSets(cur.AllTags, tags)
	}

	_, err = tx.Exec(`
		INSERT INTO handoff_metadata (tenant_id, with_whom, session_count, first_session_ts,
		                              last_session_ts, significance_sum, high_significance_count,
		                              key_people, all_tags, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, with_whom) DO UPDATE SET
			session_count = session_count + 1,
			last_session_ts = MAX(last_session_ts, excluded.last_session_ts),
			significance_sum = significance_sum + excluded.significance_sum,
			high_significance_count = high_significance_count + excluded.high_significance_count,
			key_people = excluded.key_people,
			all_tags = excluded.all_tags,
			updated_at = excluded.updated_at
	`, tenantID, in.WithWhom, ts, ts, in.Significance, highInc,
		encodeStrings(people), encodeStrings(tags), ts)
	if err != nil {
		return fmt.Errorf("failed to upsert handoff metadata: %w", err)
	}
	return nil
}

func mergeStringSets(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, vals := range [][]string{a, b} {
		for _, v := range vals {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// GetHandoffMetadata returns the lightest wake-up stratum: one aggregate row
// per relationship, no handoff bodies.
func GetHandoffMetadata(q Querier, tenantID, withWhom string) (*models.HandoffMetadata, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return handoffMetadataRow(q, tenantID, withWhom)
}

func handoffMetadataRow(q Querier, tenantID, withWhom string) (*models.HandoffMetadata, error) {
	var (
		m               models.HandoffMetadata
		firstTs, lastTs int64
		sigSum          float64
		keyPeople       string
		allTags         string
		updatedAt       int64
	)
	err := q.QueryRow(`
		SELECT tenant_id, with_whom, session_count, first_session_ts, last_session_ts,
		       significance_sum, high_significance_count, key_people, all_tags, updated_at
		FROM handoff_metadata
		WHERE tenant_id = ? AND with_whom = ?
	`, tenantID, withWhom).Scan(&m.TenantID, &m.WithWhom, &m.SessionCount, &firstTs, &lastTs,
		&sigSum, &m.HighSignificanceCount, &keyPeople, &allTags, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "no handoffs recorded with: %s", withWhom)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query handoff metadata: %w", err)
	}

	m.FirstSession = microsToTime(firstTs)
	m.LastSession = microsToTime(lastTs)
	if m.SessionCount > 0 {
		m.SignificanceAvg = sigSum / float64(m.SessionCount)
	}
	m.KeyPeople = decodeStrings(keyPeople)
	m.AllTags = decodeStrings(allTags)
	return &m, nil
}

// HandoffCorpusBytes totals the prose stored across a relationship's
// handoffs. Wake-up uses it to report how much smaller the response is than
// the full history.
func HandoffCorpusBytes(q Querier, tenantID, withWhom string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	var n int64
	err := q.QueryRow(`
		SELECT COALESCE(SUM(LENGTH(experienced) + LENGTH(noticed) + LENGTH(learned) +
		                    LENGTH(story) + LENGTH(becoming) + LENGTH(remember)), 0)
		FROM handoffs
		WHERE tenant_id = ? AND with_whom = ?
	`, tenantID, withWhom).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to size handoff corpus: %w", err)
	}
	return n, nil
}

// GetLastHandoff returns the most recent handoff for a relationship.
func GetLastHandoff(q Querier, tenantID, withWhom string) (*models.Handoff, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	row := q.QueryRow(`
		SELECT `+handoffColumns+` FROM handoffs
		WHERE tenant_id = ? AND with_whom = ?
		ORDER BY ts DESC, id DESC LIMIT 1
	`, tenantID, withWhom)
	h, err := scanHandoffRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "no handoffs recorded with: %s", withWhom)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last handoff: %w", err)
	}
	return h, nil
}

// RecentHandoffs returns the newest handoffs for a relationship, newest first.
func RecentHandoffs(q Querier, tenantID, withWhom string, limit int) ([]*models.Handoff, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 5
	}

	rows, err := q.Query(`
		SELECT `+handoffColumns+` FROM handoffs
		WHERE tenant_id = ? AND with_whom = ?
		ORDER BY ts DESC, id DESC LIMIT ?
	`, tenantID, withWhom, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list handoffs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectHandoffs(rows)
}

// SearchHandoffs is the progressive wake-up stratum: lexical search over the
// experienced/noticed/becoming fields, best match first.
func SearchHandoffs(q Querier, tenantID, withWhom, query string, limit int) ([]*models.Handoff, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	match := sanitizeMatchQuery(query)
	if match == "" {
		return RecentHandoffs(q, tenantID, withWhom, limit)
	}

	query = `
		SELECT h.id, h.tenant_id, h.with_whom, h.session_id, h.ts, h.experienced, h.noticed,
		       h.learned, h.story, h.becoming, h.remember, h.significance, h.tags,
		       h.compression_level, h.influenced_by
		FROM handoffs_fts
		JOIN handoffs h ON h.rowid = handoffs_fts.rowid
		WHERE handoffs_fts MATCH ? AND h.tenant_id = ?
	`
	args := []any{match, tenantID}
	if withWhom != "" {
		query += ` AND h.with_whom = ?`
		args = append(args, withWhom)
	}
	query += ` ORDER BY bm25(handoffs_fts) ASC LIMIT ?`
	args = append(args, limit)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search handoffs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectHandoffs(rows)
}

func collectHandoffs(rows *sql.Rows) ([]*models.Handoff, error) {
	var out []*models.Handoff
	for rows.Next() {
		h, err := scanHandoffRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan handoff: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHandoffRow(row rowScanner) (*models.Handoff, error) {
	var (
		h            models.Handoff
		ts           int64
		tags         string
		compression  string
		influencedBy sql.NullString
	)
	err := row.Scan(&h.ID, &h.TenantID, &h.WithWhom, &h.SessionID, &ts, &h.Experienced, &h.Noticed,
		&h.Learned, &h.Story, &h.Becoming, &h.Remember, &h.Significance, &tags,
		&compression, &influencedBy)
	if err != nil {
		return nil, err
	}

	h.Ts = microsToTime(ts)
	h.Tags = decodeStrings(tags)
	h.CompressionLevel = models.CompressionLevel(compression)
	h.InfluencedBy = scanNullString(influencedBy)
	return &h, nil
}
