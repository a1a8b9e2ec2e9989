package actions

import (
	"database/sql"
	"strings"

	"github.com/callin2/agent-memory-sub006/internal/chunker"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// CreateHandoff appends an immutable session reflection.
func CreateHandoff(db *sql.DB, tenantID string, actor models.Actor, in *store.HandoffInput) (*models.Handoff, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	h, err := store.CreateHandoff(db, tenantID, actor, in)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "create_handoff", "", err.Error())
		return nil, err
	}
	return h, nil
}

// GetLastHandoff returns the most recent handoff for a relationship.
func GetLastHandoff(db *sql.DB, tenantID, withWhom string) (*models.Handoff, error) {
	if withWhom == "" {
		return nil, models.Errf(models.KindInvalidArgument, "with_whom is required")
	}
	return store.GetLastHandoff(db, tenantID, withWhom)
}

// ListHandoffs returns the newest handoffs for a relationship, optionally
// keeping only those at or above a significance floor.
func ListHandoffs(db *sql.DB, tenantID, withWhom string, limit int, minSignificance float64) ([]*models.Handoff, error) {
	if withWhom == "" {
		return nil, models.Errf(models.KindInvalidArgument, "with_whom is required")
	}
	handoffs, err := store.RecentHandoffs(db, tenantID, withWhom, limit)
	if err != nil {
		return nil, err
	}
	if minSignificance <= 0 {
		return handoffs, nil
	}
	filtered := handoffs[:0:0]
	for _, h := range handoffs {
		if h.Significance >= minSignificance {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}

// Wake-up layers, lightest first.
const (
	WakeUpMetadata    = "metadata"
	WakeUpReflection  = "reflection"
	WakeUpRecent      = "recent"
	WakeUpProgressive = "progressive"
)

// ReflectionLayer wraps the cached reflection so a relationship that has not
// been consolidated yet is a normal answer, not an error.
type ReflectionLayer struct {
	Available  bool               `json:"available"`
	Reason     string             `json:"reason,omitempty"`
	Reflection *models.Reflection `json:"reflection,omitempty"`
}

// WakeUpResult carries every requested layer plus sizing totals for the
// whole response.
type WakeUpResult struct {
	Layers           []string                `json:"layers"`
	FirstSession     bool                    `json:"first_session"`
	Metadata         *models.HandoffMetadata `json:"metadata,omitempty"`
	Reflection       *ReflectionLayer        `json:"reflection,omitempty"`
	Recent           []*models.Handoff       `json:"recent,omitempty"`
	Matches          []*models.Handoff       `json:"matches,omitempty"`
	EstimatedTokens  int                     `json:"estimated_tokens"`
	CompressionRatio float64                 `json:"compression_ratio"`
}

// WakeUp loads session memory at the requested depths. Layers combine in one
// call: metadata (one aggregate row), reflection (cached insights), recent
// (last-N handoffs), progressive (lexical topic lookup across handoffs).
// A relationship with no recorded handoffs wakes up successfully with
// first_session set.
func WakeUp(db *sql.DB, tenantID, withWhom string, layers []string, query string, limit int, minSignificance float64) (*WakeUpResult, error) {
	if withWhom == "" {
		return nil, models.Errf(models.KindInvalidArgument, "with_whom is required")
	}
	if len(layers) == 0 {
		layers = []string{WakeUpMetadata}
	}
	want := make(map[string]bool, len(layers))
	for _, layer := range layers {
		switch layer {
		case WakeUpMetadata, WakeUpReflection, WakeUpRecent, WakeUpProgressive:
			want[layer] = true
		default:
			return nil, models.Errf(models.KindInvalidArgument, "unknown wake-up layer: %q", layer)
		}
	}
	if want[WakeUpProgressive] && query == "" {
		return nil, models.Errf(models.KindInvalidArgument, "progressive wake-up requires a query")
	}

	result := &WakeUpResult{Layers: layers}

	meta, err := store.GetHandoffMetadata(db, tenantID, withWhom)
	switch {
	case err == nil:
	case models.IsKind(err, models.KindNotFound):
		result.FirstSession = true
	default:
		return nil, err
	}
	if want[WakeUpMetadata] {
		result.Metadata = meta
	}

	if want[WakeUpReflection] {
		r, rErr := store.GetReflection(db, tenantID, withWhom)
		switch {
		case rErr == nil:
			result.Reflection = &ReflectionLayer{Available: true, Reflection: r}
		case models.IsKind(rErr, models.KindNotFound):
			result.Reflection = &ReflectionLayer{Available: false, Reason: "no consolidated reflection yet"}
		default:
			return nil, rErr
		}
	}

	if want[WakeUpRecent] {
		recent, lErr := ListHandoffs(db, tenantID, withWhom, limit, minSignificance)
		if lErr != nil {
			return nil, lErr
		}
		result.Recent = recent
	}

	if want[WakeUpProgressive] {
		matches, sErr := store.SearchHandoffs(db, tenantID, withWhom, query, limit)
		if sErr != nil {
			return nil, sErr
		}
		result.Matches = matches
	}

	result.EstimatedTokens = estimateWakeUpTokens(result)

	corpusBytes, cErr := store.HandoffCorpusBytes(db, tenantID, withWhom)
	if cErr != nil {
		return nil, cErr
	}
	if fullTokens := int(corpusBytes / 4); fullTokens > 0 {
		ratio := float64(result.EstimatedTokens) / float64(fullTokens)
		if ratio > 1 {
			ratio = 1
		}
		result.CompressionRatio = ratio
	}
	return result, nil
}

// estimateWakeUpTokens sizes the prose actually returned, layer by layer.
func estimateWakeUpTokens(r *WakeUpResult) int {
	total := 0
	if r.Metadata != nil {
		fields := append(append([]string{}, r.Metadata.KeyPeople...), r.Metadata.AllTags...)
		total += chunker.EstimateTokens(strings.Join(fields, " "))
	}
	if r.Reflection != nil && r.Reflection.Reflection != nil {
		for _, insight := range r.Reflection.Reflection.Insights {
			total += chunker.EstimateTokens(insight)
		}
	}
	for _, h := range r.Recent {
		total += handoffTokens(h)
	}
	for _, h := range r.Matches {
		total += handoffTokens(h)
	}
	return total
}

func handoffTokens(h *models.Handoff) int {
	return chunker.EstimateTokens(strings.Join([]string{
		h.Experienced, h.Noticed, h.Learned, h.Story, h.Becoming, h.Remember,
	}, " "))
}
