package acb

import (
	"strings"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// Sticky invariant priorities. Packing admits sticky items first and evicts
// them last; within sticky, higher priority survives longer.
const (
	PrioritySafety        = 1000
	PriorityCorrection    = 900
	PriorityConstraint    = 800
	PriorityBlockingError = 700
)

type stickyCue struct {
	priority int
	label    string
	phrases  []string
}

// Cue order matters: the first matching class wins, so a chunk that is both
// a safety statement and an error report is pinned as safety.
var stickyCues = []stickyCue{
	{
		priority: PrioritySafety,
		label:    "safety",
		phrases: []string{
			"must not", "never ", "do not ", "don't ", "forbidden",
			"unsafe", "safety", "secret", "credential", "password",
		},
	},
	{
		priority: PriorityCorrection,
		label:    "correction",
		phrases: []string{
			"actually", "wait,", "wait ", "correction", "i meant",
			"that's wrong", "not what i", "instead of what",
		},
	},
	{
		priority: PriorityConstraint,
		label:    "constraint",
		phrases: []string{
			"must ", "always ", "required", "hard limit", "constraint",
			"non-negotiable", "deadline",
		},
	},
	{
		priority: PriorityBlockingError,
		label:    "blocking-error",
		phrases: []string{
			"error:", "failed", "failure", "panic", "blocked on",
			"cannot proceed", "fatal",
		},
	},
}

// classifySticky returns the sticky priority and cue label for a chunk, or
// (0, "") when the text matches no cue.
func classifySticky(text string) (int, string) {
	lower := strings.ToLower(text)
	for _, cue := range stickyCues {
		for _, phrase := range cue.phrases {
			if strings.Contains(lower, phrase) {
				return cue.priority, cue.label
			}
		}
	}
	return 0, ""
}

// extractSticky pulls sticky invariants from the recent window, preserving
// window order within each priority class.
func extractSticky(recent []*models.EffectiveChunk) []packedItem {
	var out []packedItem
	for _, c := range recent {
		priority, label := classifySticky(c.Text)
		if priority == 0 {
			continue
		}
		out = append(out, packedItem{
			Item: Item{
				Text:       c.Text,
				TokenEst:   c.TokenEst,
				Refs:       []string{c.EventID, c.ID},
				SourceKind: "sticky:" + label,
			},
			priority:     float64(priority),
			sticky:       true,
			editsApplied: c.EditsApplied,
		})
	}
	return out
}
