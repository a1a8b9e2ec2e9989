package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// The effective view applies approved memory edits to base rows at read
// time. The base row in storage is never mutated. Precedence when multiple
// approved edits exist on one target:
//
//	retract > block > quarantine > latest amend > attenuates in applied order
//
// A retract or block is never undone by a later non-retract/non-block edit.
// Retracting a superseding decision does not reactivate its predecessor;
// ledger status is the sole source of truth for supersession.

// ReadOptions controls effective-view filtering.
type ReadOptions struct {
	// Channel, when set, removes rows whose sensitivity exceeds what the
	// channel may carry and rows that block the channel.
	Channel models.Channel
	// IncludeQuarantined keeps quarantined rows (flagged) in results.
	IncludeQuarantined bool
}

type appliedEdit struct {
	op        models.EditOp
	patch     models.EditPatch
	appliedAt int64
}

// loadApprovedEdits returns approved edits per target id, ordered by
// applied_at ascending.
func loadApprovedEdits(q Querier, tenantID string, targetType models.EditTargetType, targetIDs []string) (map[string][]appliedEdit, error) {
	if len(targetIDs) == 0 {
		return map[string][]appliedEdit{}, nil
	}

	placeholders := strings.Repeat("?,", len(targetIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(targetIDs)+2)
	args = append(args, tenantID, string(targetType))
	for _, id := range targetIDs {
		args = append(args, id)
	}

	rows, err := q.Query(`
		SELECT target_id, op, patch, applied_at
		FROM memory_edits
		WHERE tenant_id = ? AND target_type = ? AND status = 'approved'
		  AND target_id IN (`+placeholders+`)
		ORDER BY applied_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load edits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]appliedEdit)
	for rows.Next() {
		var (
			targetID  string
			op        string
			patchRaw  string
			appliedAt sql.NullInt64
		)
		if scanErr := rows.Scan(&targetID, &op, &patchRaw, &appliedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", scanErr)
		}
		var patch models.EditPatch
		if patchRaw != "" {
			_ = json.Unmarshal([]byte(patchRaw), &patch)
		}
		out[targetID] = append(out[targetID], appliedEdit{
			op:        models.EditOp(op),
			patch:     patch,
			appliedAt: appliedAt.Int64,
		})
	}
	return out, rows.Err()
}

// applyChunkEdits projects one chunk through its approved edits.
// Returns (nil, n) when the chunk is retracted.
func applyChunkEdits(base models.Chunk, edits []appliedEdit) (*models.EffectiveChunk, int) {
	eff := &models.EffectiveChunk{Chunk: base, EditsApplied: len(edits)}
	if len(edits) == 0 {
		return eff, 0
	}

	var latestAmend *appliedEdit
	for i := range edits {
		e := &edits[i]
		switch e.op {
		case models.EditOpRetract:
			return nil, len(edits)
		case models.EditOpBlock:
			if e.patch.Channel.Valid() {
				eff.BlockedChannels = append(eff.BlockedChannels, e.patch.Channel)
			}
		case models.EditOpQuarantine:
			eff.IsQuarantined = true
		case models.EditOpAmend:
			latestAmend = e
		}
	}

	if latestAmend != nil {
		if latestAmend.patch.Text != nil {
			eff.Text = *latestAmend.patch.Text
		}
		if latestAmend.patch.Importance != nil {
			eff.Importance = clampImportance(*latestAmend.patch.Importance)
		}
	}

	// Attenuates apply after the amended base, in applied order: absolute
	// values reset, deltas accumulate.
	for i := range edits {
		e := &edits[i]
		if e.op != models.EditOpAttenuate {
			continue
		}
		if e.patch.Importance != nil {
			eff.Importance = clampImportance(*e.patch.Importance)
		} else if e.patch.ImportanceDelta != nil {
			eff.Importance = clampImportance(eff.Importance + *e.patch.ImportanceDelta)
		}
	}

	return eff, len(edits)
}

func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// effectiveChunks projects base chunks through their edits and applies the
// read filters. Returns the visible chunks plus the total edits applied.
func effectiveChunks(q Querier, tenantID string, base []models.Chunk, opts ReadOptions) ([]*models.EffectiveChunk, int, error) {
	ids := make([]string, len(base))
	for i := range base {
		ids[i] = base[i].ID
	}

	editsByID, err := loadApprovedEdits(q, tenantID, models.EditTargetChunk, ids)
	if err != nil {
		return nil, 0, err
	}

	var out []*models.EffectiveChunk
	editsApplied := 0
	for i := range base {
		eff, n := applyChunkEdits(base[i], editsByID[base[i].ID])
		editsApplied += n
		if eff == nil {
			continue // retracted
		}
		if eff.IsQuarantined && !opts.IncludeQuarantined {
			continue
		}
		if opts.Channel != "" && !eff.VisibleOn(opts.Channel) {
			continue
		}
		out = append(out, eff)
	}
	return out, editsApplied, nil
}

// GetEffectiveChunks returns the effective form of the requested chunks,
// preserving request order for the ones that remain visible.
func GetEffectiveChunks(q Querier, tenantID string, chunkIDs []string, opts ReadOptions) ([]*models.EffectiveChunk, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	base, err := chunksByIDs(q, tenantID, chunkIDs)
	if err != nil {
		return nil, err
	}

	visible, _, err := effectiveChunks(q, tenantID, base, opts)
	return visible, err
}

// EffectiveDecision is a decision projected through its approved edits.
type EffectiveDecision struct {
	models.Decision
	IsQuarantined   bool             `json:"is_quarantined,omitempty"`
	BlockedChannels []models.Channel `json:"blocked_channels,omitempty"`
}

// visibleOn mirrors EffectiveChunk.VisibleOn for decisions (decisions carry
// no sensitivity; only channel blocks apply).
func (d *EffectiveDecision) visibleOn(ch models.Channel) bool {
	for _, blocked := range d.BlockedChannels {
		if blocked == ch {
			return false
		}
	}
	return true
}

// effectiveDecisions filters decisions through their approved edits:
// retract hides, block hides per channel, quarantine flags, amend replaces
// the decision text. Attenuate has no meaning for decisions and is ignored.
func effectiveDecisions(q Querier, tenantID string, base []models.Decision, opts ReadOptions) ([]*EffectiveDecision, error) {
	ids := make([]string, len(base))
	for i := range base {
		ids[i] = base[i].ID
	}

	editsByID, err := loadApprovedEdits(q, tenantID, models.EditTargetDecision, ids)
	if err != nil {
		return nil, err
	}

	var out []*EffectiveDecision
	for i := range base {
		eff := &EffectiveDecision{Decision: base[i]}
		retracted := false
		var latestAmend *appliedEdit

		edits := editsByID[base[i].ID]
		for j := range edits {
			e := &edits[j]
			switch e.op {
			case models.EditOpRetract:
				retracted = true
			case models.EditOpBlock:
				if e.patch.Channel.Valid() {
					eff.BlockedChannels = append(eff.BlockedChannels, e.patch.Channel)
				}
			case models.EditOpQuarantine:
				eff.IsQuarantined = true
			case models.EditOpAmend:
				latestAmend = e
			}
		}
		if retracted {
			continue
		}
		if latestAmend != nil && latestAmend.patch.Text != nil {
			eff.Decision.Decision = *latestAmend.patch.Text
		}
		if eff.IsQuarantined && !opts.IncludeQuarantined {
			continue
		}
		if opts.Channel != "" && !eff.visibleOn(opts.Channel) {
			continue
		}
		out = append(out, eff)
	}
	return out, nil
}
