package acb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/chunker"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// Section names in packing order.
const (
	SectionSticky    = "sticky_invariants"
	SectionRules     = "rules"
	SectionDecisions = "relevant_decisions"
	SectionTasks     = "task_state"
	SectionCapsules  = "capsules"
	SectionRecent    = "recent_window"
	SectionRetrieved = "retrieved_evidence"
	SectionHandoff   = "handoff"
)

var sectionOrder = []string{
	SectionSticky, SectionRules, SectionDecisions, SectionTasks,
	SectionCapsules, SectionRecent, SectionRetrieved, SectionHandoff,
}

// Per-section item caps keep bundles navigable even under huge budgets.
var sectionItemCaps = map[string]int{
	SectionSticky:    10,
	SectionRules:     5,
	SectionDecisions: 8,
	SectionTasks:     8,
	SectionCapsules:  5,
	SectionRecent:    8,
	SectionRetrieved: 8,
	SectionHandoff:   1,
}

const (
	// recentWindowScan is how many session chunks feed the recent window and
	// sticky extraction.
	recentWindowScan = 50

	// softDeadline bounds bundle assembly; when exceeded, remaining sections
	// come back empty and the bundle is marked truncated rather than failing.
	softDeadline = 500 * time.Millisecond

	// WarningBudgetExceeded is set when sticky invariants alone overflow the
	// token ceiling.
	WarningBudgetExceeded = "budget_exceeded"
)

// Request is the input to build_acb.
type Request struct {
	SessionID          string
	Channel            models.Channel
	Intent             string
	QueryText          string
	SubjectType        string
	SubjectID          string
	ProjectID          string
	AgentID            string
	MaxTokens          int
	IncludeCapsules    bool
	IncludeQuarantined bool
}

// Item is one admitted bundle entry, traceable to its sources via Refs.
type Item struct {
	Text       string   `json:"text"`
	TokenEst   int      `json:"token_est"`
	Refs       []string `json:"refs"`
	SourceKind string   `json:"source_kind"`
}

// Section is one named, ordered slice of the bundle.
type Section struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Bundle is the assembled active context.
type Bundle struct {
	Sections       []Section `json:"sections"`
	TokenUsedEst   int       `json:"token_used_est"`
	MaxTokens      int       `json:"max_tokens"`
	EditsApplied   int       `json:"edits_applied"`
	Mode           Mode      `json:"mode"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
	Truncated      bool      `json:"truncated,omitempty"`
}

type packedItem struct {
	Item
	priority     float64
	sticky       bool
	editsApplied int
}

// Build assembles an active context bundle inside one read snapshot. It only
// fails on invalid input or an unknown session; section read errors degrade
// to empty sections with a warning, so prompt assembly never breaks on a
// retrieval hiccup.
func Build(ctx context.Context, db *sql.DB, cfg app.Config, tenantID string, req Request) (*Bundle, error) {
	if tenantID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "tenant id is required")
	}
	if !req.Channel.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown channel: %q", req.Channel)
	}
	if req.AgentID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "agent_id is required")
	}
	if req.SessionID != "" {
		known, err := store.SessionExists(db, tenantID, req.SessionID)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, models.Errf(models.KindNotFound, "session not found: %s", req.SessionID)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = cfg.DefaultMaxTokens
	}
	if maxTokens < 1 {
		maxTokens = 1
	}
	if maxTokens > app.MaxTokensCeiling {
		maxTokens = app.MaxTokensCeiling
	}

	bundle := &Bundle{MaxTokens: maxTokens}
	mode, confidence := DetectMode(req.Intent)
	if confidence < modeConfidenceThreshold {
		if mode != ModeGeneral {
			bundle.FallbackReason = fmt.Sprintf("mode %s confidence %.2f below threshold", mode, confidence)
		} else if req.Intent != "" {
			bundle.FallbackReason = "intent matched no mode vocabulary"
		}
		mode = ModeGeneral
	}
	bundle.Mode = mode

	start := time.Now()
	candidates := map[string][]packedItem{}
	opts := store.ReadOptions{Channel: req.Channel, IncludeQuarantined: req.IncludeQuarantined}

	err := store.ReadTx(ctx, db, func(tx *sql.Tx) error {
		gatherSections(tx, cfg, tenantID, req, opts, start, bundle, candidates)
		return nil
	})
	if err != nil {
		// A failed snapshot still yields a usable (empty) bundle.
		slog.Error("bundle snapshot failed", "tenant_id", tenantID, "error", err.Error())
		bundle.Warnings = append(bundle.Warnings, "snapshot_failed")
	}

	pack(bundle, mode, maxTokens, candidates)
	return bundle, nil
}

// gatherSections fetches every section's candidates within the snapshot,
// checking the soft deadline between sections.
func gatherSections(tx *sql.Tx, cfg app.Config, tenantID string, req Request, opts store.ReadOptions, start time.Time, bundle *Bundle, candidates map[string][]packedItem) {
	overdue := func() bool {
		if time.Since(start) > softDeadline {
			bundle.Truncated = true
			return true
		}
		return false
	}
	warn := func(section string, err error) {
		slog.Warn("bundle section failed", "section", section, "tenant_id", tenantID, "error", err.Error())
		bundle.Warnings = append(bundle.Warnings, "section_"+section+"_failed")
	}

	// Recent window feeds both the sticky and recent sections.
	var recent []*models.EffectiveChunk
	if req.SessionID != "" {
		var err error
		recent, err = store.SessionChunks(tx, tenantID, req.SessionID, recentWindowScan, opts)
		if err != nil {
			warn(SectionRecent, err)
		}
	}
	candidates[SectionSticky] = extractSticky(recent)
	for i := len(recent) - 1; i >= 0; i-- { // newest first for packing order
		c := recent[i]
		candidates[SectionRecent] = append(candidates[SectionRecent], packedItem{
			Item: Item{
				Text:       c.Text,
				TokenEst:   c.TokenEst,
				Refs:       []string{c.EventID, c.ID},
				SourceKind: "chunk:recent",
			},
			priority:     c.Importance,
			editsApplied: c.EditsApplied,
		})
	}
	if overdue() {
		return
	}

	decisions, err := store.ActiveDecisions(tx, tenantID, store.ActiveDecisionsFilter{
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		ProjectID:   req.ProjectID,
	}, opts)
	if err != nil {
		warn(SectionDecisions, err)
	}
	for _, d := range decisions {
		item := decisionItem(d)
		if d.Scope == models.ScopePolicy {
			candidates[SectionRules] = append(candidates[SectionRules], item)
		} else {
			candidates[SectionDecisions] = append(candidates[SectionDecisions], item)
		}
	}
	if overdue() {
		return
	}

	// Task state is the caller's working set, not the whole tenant: the
	// agent's own or unassigned tasks, narrowed to the project when given.
	for _, status := range []models.TaskStatus{models.TaskStatusDoing, models.TaskStatusBlocked, models.TaskStatusOpen} {
		tasks, tErr := store.ListTasks(tx, tenantID, store.TaskFilter{
			Status:            status,
			AssigneeID:        req.AgentID,
			IncludeUnassigned: true,
			ProjectRef:        req.ProjectID,
			Limit:             sectionItemCaps[SectionTasks],
		})
		if tErr != nil {
			warn(SectionTasks, tErr)
			break
		}
		for _, t := range tasks {
			candidates[SectionTasks] = append(candidates[SectionTasks], taskItem(t))
		}
	}
	if overdue() {
		return
	}

	if req.IncludeCapsules {
		capsules, cErr := store.AvailableCapsules(tx, tenantID, req.AgentID, req.SubjectType, req.SubjectID)
		if cErr != nil {
			warn(SectionCapsules, cErr)
		}
		for _, c := range capsules {
			candidates[SectionCapsules] = append(candidates[SectionCapsules], capsuleItem(c))
		}
	}
	if overdue() {
		return
	}

	query := req.QueryText
	if query == "" {
		query = req.Intent
	}
	if query != "" {
		seen := map[string]bool{}
		for _, pi := range candidates[SectionRecent] {
			if len(pi.Refs) > 1 {
				seen[pi.Refs[1]] = true
			}
		}
		results, sErr := store.SearchChunks(tx, tenantID, store.SearchQuery{
			Query:           query,
			SubjectType:     req.SubjectType,
			SubjectID:       req.SubjectID,
			ProjectID:       req.ProjectID,
			Limit:           sectionItemCaps[SectionRetrieved] * 2,
			CandidatePool:   cfg.MaxCandidatePool,
			HalfLifeSeconds: cfg.RecencyHalfLifeSeconds,
		}, opts)
		if sErr != nil {
			warn(SectionRetrieved, sErr)
		}
		for _, r := range results {
			if seen[r.Chunk.ID] {
				continue
			}
			candidates[SectionRetrieved] = append(candidates[SectionRetrieved], packedItem{
				Item: Item{
					Text:       r.Chunk.Text,
					TokenEst:   r.Chunk.TokenEst,
					Refs:       []string{r.Chunk.EventID, r.Chunk.ID},
					SourceKind: "chunk:retrieved",
				},
				priority:     r.Score,
				editsApplied: r.Chunk.EditsApplied,
			})
		}
	}
	if overdue() {
		return
	}

	handoff, hErr := store.GetLastHandoff(tx, tenantID, req.AgentID)
	if hErr != nil {
		if !models.IsKind(hErr, models.KindNotFound) {
			warn(SectionHandoff, hErr)
		}
		return
	}
	candidates[SectionHandoff] = []packedItem{handoffItem(handoff)}
}

func decisionItem(d *store.EffectiveDecision) packedItem {
	text := d.Decision.Decision
	if len(d.Rationale) > 0 {
		text += " (" + strings.Join(d.Rationale, "; ") + ")"
	}
	refs := append([]string{d.ID}, d.Refs...)
	return packedItem{
		Item: Item{
			Text:       text,
			TokenEst:   chunker.EstimateTokens(text),
			Refs:       refs,
			SourceKind: "decision",
		},
		priority: 0.5 + 0.1*float64(d.Scope.Precedence()),
	}
}

func taskItem(t *models.Task) packedItem {
	text := fmt.Sprintf("[%s] %s (%d%%)", t.Status, t.Title, t.ProgressPercent)
	if len(t.BlockedBy) > 0 {
		text += " blocked by " + strings.Join(t.BlockedBy, ", ")
	}
	prio := float64(t.Priority)
	if prio > 10 {
		prio = 10
	}
	return packedItem{
		Item: Item{
			Text:       text,
			TokenEst:   chunker.EstimateTokens(text),
			Refs:       []string{t.ID},
			SourceKind: "task",
		},
		priority: 0.4 + prio/25,
	}
}

func capsuleItem(c *models.Capsule) packedItem {
	text := fmt.Sprintf("capsule for %s:%s from %s: %d chunks, %d decisions, %d artifacts",
		c.SubjectType, c.SubjectID, c.AuthorAgentID,
		len(c.Items.Chunks), len(c.Items.Decisions), len(c.Items.Artifacts))
	if len(c.Risks) > 0 {
		text += "; risks: " + strings.Join(c.Risks, "; ")
	}
	refs := []string{c.ID}
	refs = append(refs, c.Items.Chunks...)
	refs = append(refs, c.Items.Decisions...)
	refs = append(refs, c.Items.Artifacts...)
	return packedItem{
		Item: Item{
			Text:       text,
			TokenEst:   chunker.EstimateTokens(text),
			Refs:       refs,
			SourceKind: "capsule",
		},
		priority: 0.6,
	}
}

func handoffItem(h *models.Handoff) packedItem {
	var parts []string
	parts = append(parts, "experienced: "+h.Experienced)
	if h.Remember != "" {
		parts = append(parts, "remember: "+h.Remember)
	}
	if h.Becoming != "" {
		parts = append(parts, "becoming: "+h.Becoming)
	}
	text := strings.Join(parts, "\n")
	return packedItem{
		Item: Item{
			Text:       text,
			TokenEst:   chunker.EstimateTokens(text),
			Refs:       []string{h.ID},
			SourceKind: "handoff",
		},
		priority: 0.5,
	}
}

// pack admits candidates section by section under per-mode sub-budgets,
// donates leftover tokens, then enforces the hard ceiling by evicting the
// lowest-priority non-sticky items.
func pack(bundle *Bundle, mode Mode, maxTokens int, candidates map[string][]packedItem) {
	admitted := map[string][]packedItem{}
	skipped := map[string][]packedItem{}
	leftover := 0

	for _, name := range sectionOrder {
		items := candidates[name]
		itemCap := sectionItemCaps[name]

		// Stable by priority; candidate order breaks ties.
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].priority > items[j].priority
		})

		if name == SectionSticky {
			// Sticky items bypass the sub-budget; the hard ceiling is their
			// only limit and eviction never touches them.
			n := len(items)
			if n > itemCap {
				n = itemCap
			}
			admitted[name] = items[:n]
			continue
		}

		budget := budgetFor(mode, name, maxTokens)
		used := 0
		for _, it := range items {
			if len(admitted[name]) >= itemCap {
				break
			}
			if used+it.TokenEst <= budget {
				admitted[name] = append(admitted[name], it)
				used += it.TokenEst
			} else {
				skipped[name] = append(skipped[name], it)
			}
		}
		if budget > used {
			leftover += budget - used
		}
	}

	// Donate leftover budget to sections that still have ranked candidates.
	for _, name := range sectionOrder {
		for _, it := range skipped[name] {
			if len(admitted[name]) >= sectionItemCaps[name] {
				break
			}
			if it.TokenEst > leftover {
				continue
			}
			admitted[name] = append(admitted[name], it)
			leftover -= it.TokenEst
		}
	}

	total := 0
	for _, items := range admitted {
		for _, it := range items {
			total += it.TokenEst
		}
	}

	// Hard ceiling: evict lowest-priority non-sticky items first.
	if total > maxTokens {
		type located struct {
			section string
			idx     int
		}
		var evictable []located
		for _, name := range sectionOrder {
			for i, it := range admitted[name] {
				if !it.sticky {
					evictable = append(evictable, located{name, i})
				}
			}
		}
		sort.SliceStable(evictable, func(a, b int) bool {
			return admitted[evictable[a].section][evictable[a].idx].priority <
				admitted[evictable[b].section][evictable[b].idx].priority
		})

		gone := map[string]map[int]bool{}
		for _, loc := range evictable {
			if total <= maxTokens {
				break
			}
			if gone[loc.section] == nil {
				gone[loc.section] = map[int]bool{}
			}
			gone[loc.section][loc.idx] = true
			total -= admitted[loc.section][loc.idx].TokenEst
		}
		for name, removed := range gone {
			kept := admitted[name][:0:0]
			for i, it := range admitted[name] {
				if !removed[i] {
					kept = append(kept, it)
				}
			}
			admitted[name] = kept
		}

		if total > maxTokens {
			bundle.Warnings = append(bundle.Warnings, WarningBudgetExceeded)
		}
	}

	bundle.TokenUsedEst = total
	for _, name := range sectionOrder {
		section := Section{Name: name, Items: []Item{}}
		for _, it := range admitted[name] {
			section.Items = append(section.Items, it.Item)
			bundle.EditsApplied += it.editsApplied
		}
		bundle.Sections = append(bundle.Sections, section)
	}
}
