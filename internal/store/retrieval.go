package store

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// Scoring weights for ranked retrieval. Lexical match dominates, importance
// and recency refine, tag overlap nudges.
const (
	weightFts        = 0.40
	weightImportance = 0.30
	weightRecency    = 0.20
	weightTags       = 0.10

	// floatingSummaryPenalty halves the score of summary chunks whose parent
	// event carries no refs: a summary that cites nothing should never
	// outrank the raw material it summarizes.
	floatingSummaryPenalty = 0.5

	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// SearchQuery is the input to ranked chunk retrieval.
type SearchQuery struct {
	Query       string
	Tags        []string
	SessionID   string
	Scope       models.ScopeKind
	SubjectType string
	SubjectID   string
	ProjectID   string
	Kinds       []models.EventKind
	Limit       int

	// CandidatePool caps how many FTS candidates are scored; 0 uses the
	// configured default.
	CandidatePool int
	// HalfLifeSeconds controls recency decay; 0 uses the configured default.
	HalfLifeSeconds int
}

// SearchResult is one scored chunk with its score components, for
// explainability in clients.
type SearchResult struct {
	Chunk      *models.EffectiveChunk `json:"chunk"`
	Score      float64                `json:"score"`
	FtsScore   float64                `json:"fts_score"`
	Recency    float64                `json:"recency"`
	TagOverlap float64                `json:"tag_overlap"`
}

// SearchChunks runs ranked retrieval: FTS5 candidate selection, effective-view
// projection, then composite scoring. Results are ordered by score descending
// with deterministic tie-breaks (importance desc, ts desc, chunk id asc).
func SearchChunks(q Querier, tenantID string, sq SearchQuery, opts ReadOptions) ([]SearchResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	limit := sq.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	pool := sq.CandidatePool
	if pool <= 0 {
		pool = 500
	}
	halfLife := float64(sq.HalfLifeSeconds)
	if halfLife <= 0 {
		halfLife = float64(7 * 24 * 3600)
	}

	match := sanitizeMatchQuery(sq.Query)
	candidates, err := searchCandidates(q, tenantID, sq, match, pool)
	if err != nil {
		return nil, err
	}

	base := make([]models.Chunk, len(candidates))
	for i := range candidates {
		base[i] = candidates[i].chunk
	}
	visible, _, err := effectiveChunks(q, tenantID, base, opts)
	if err != nil {
		return nil, err
	}
	visibleByID := make(map[string]*models.EffectiveChunk, len(visible))
	for _, eff := range visible {
		visibleByID[eff.ID] = eff
	}

	now := time.Now()
	results := make([]SearchResult, 0, len(visible))
	for i := range candidates {
		c := &candidates[i]
		eff, ok := visibleByID[c.chunk.ID]
		if !ok {
			continue
		}

		r := SearchResult{Chunk: eff}
		r.FtsScore = normalizeBM25(c.bm25)
		r.Recency = recencyScore(now.Sub(eff.Ts).Seconds(), halfLife)
		r.TagOverlap = tagOverlap(sq.Tags, eff.Tags)
		r.Score = weightFts*r.FtsScore +
			weightImportance*eff.Importance +
			weightRecency*r.Recency +
			weightTags*r.TagOverlap

		if isFloatingSummary(eff, c.eventRefs) {
			r.Score *= floatingSummaryPenalty
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.Importance != results[j].Chunk.Importance {
			return results[i].Chunk.Importance > results[j].Chunk.Importance
		}
		if !results[i].Chunk.Ts.Equal(results[j].Chunk.Ts) {
			return results[i].Chunk.Ts.After(results[j].Chunk.Ts)
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

type searchCandidate struct {
	chunk     models.Chunk
	bm25      float64
	eventRefs []string
}

const chunkColumnsQualified = `c.id, c.tenant_id, c.event_id, c.session_id, c.ts, c.kind, c.channel, c.sensitivity,
       c.tags, c.text, c.token_est, c.importance, c.scope, c.subject_type, c.subject_id, c.project_id`

func searchCandidates(q Querier, tenantID string, sq SearchQuery, match string, pool int) ([]searchCandidate, error) {
	var (
		sb   strings.Builder
		args []any
	)

	if match != "" {
		sb.WriteString(`
			SELECT ` + chunkColumnsQualified + `, e.refs, bm25(chunks_fts)
			FROM chunks_fts
			JOIN chunks c ON c.rowid = chunks_fts.rowid
			JOIN events e ON e.id = c.event_id
			WHERE chunks_fts MATCH ? AND c.tenant_id = ?`)
		args = append(args, match, tenantID)
	} else {
		sb.WriteString(`
			SELECT ` + chunkColumnsQualified + `, e.refs, 0.0
			FROM chunks c
			JOIN events e ON e.id = c.event_id
			WHERE c.tenant_id = ?`)
		args = append(args, tenantID)
	}

	if sq.SessionID != "" {
		sb.WriteString(` AND c.session_id = ?`)
		args = append(args, sq.SessionID)
	}
	if sq.Scope != "" {
		sb.WriteString(` AND c.scope = ?`)
		args = append(args, string(sq.Scope))
	}
	if sq.SubjectType != "" {
		sb.WriteString(` AND c.subject_type = ?`)
		args = append(args, sq.SubjectType)
	}
	if sq.SubjectID != "" {
		sb.WriteString(` AND c.subject_id = ?`)
		args = append(args, sq.SubjectID)
	}
	if sq.ProjectID != "" {
		sb.WriteString(` AND c.project_id = ?`)
		args = append(args, sq.ProjectID)
	}
	if len(sq.Kinds) > 0 {
		sb.WriteString(` AND c.kind IN (` + strings.TrimRight(strings.Repeat("?,", len(sq.Kinds)), ",") + `)`)
		for _, k := range sq.Kinds {
			args = append(args, string(k))
		}
	}

	if match != "" {
		sb.WriteString(` ORDER BY bm25(chunks_fts) ASC`)
	} else {
		sb.WriteString(` ORDER BY c.ts DESC`)
	}
	sb.WriteString(` LIMIT ?`)
	args = append(args, pool)

	rows, err := q.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []searchCandidate
	for rows.Next() {
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
			refs        string
			bm          float64
		)
		err := rows.Scan(&c.ID, &c.TenantID, &c.EventID, &c.SessionID, &ts, &kind, &channel, &sensitivity,
			&tags, &c.Text, &c.TokenEst, &c.Importance, &scope, &subjectType, &subjectID, &projectID,
			&refs, &bm)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search candidate: %w", err)
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
		out = append(out, searchCandidate{chunk: c, bm25: bm, eventRefs: decodeStrings(refs)})
	}
	return out, rows.Err()
}

// sanitizeMatchQuery turns free text into a safe FTS5 MATCH expression by
// quoting every term. Quoting disables FTS5 query syntax, so user input can
// never produce a syntax error or a column filter.
func sanitizeMatchQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}

// normalizeBM25 maps an FTS5 bm25 value (lower is better, typically negative)
// onto [0, 1).
func normalizeBM25(bm float64) float64 {
	rel := -bm
	if rel <= 0 {
		return 0
	}
	return rel / (1 + rel)
}

// recencyScore decays exponentially with age: 1.0 now, 0.5 at one half-life.
func recencyScore(ageSeconds, halfLifeSeconds float64) float64 {
	if ageSeconds <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * ageSeconds / halfLifeSeconds)
}

// tagOverlap is the fraction of requested tags present on the chunk.
func tagOverlap(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, t := range have {
		haveSet[t] = struct{}{}
	}
	hits := 0
	for _, t := range want {
		if _, ok := haveSet[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

// isFloatingSummary reports whether the chunk is a summary whose parent event
// cites no sources.
func isFloatingSummary(c *models.EffectiveChunk, eventRefs []string) bool {
	if len(eventRefs) > 0 {
		return false
	}
	for _, t := range c.Tags {
		if t == "summary" {
			return true
		}
	}
	return false
}
