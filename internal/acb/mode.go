package acb

import (
	"strings"
	"unicode"
)

// Mode shapes how the bundle budget is split across sections.
type Mode string

// Bundle modes.
const (
	ModeTask        Mode = "task"
	ModeDebugging   Mode = "debugging"
	ModeExploration Mode = "exploration"
	ModeLearning    Mode = "learning"
	ModeGeneral     Mode = "general"
)

// modeConfidenceThreshold is the minimum detection confidence; below it the
// builder falls back to general and records why.
const modeConfidenceThreshold = 0.7

// modeKeywords maps intent vocabulary to modes. Detection is a bag-of-words
// vote, deterministic for the same intent string.
var modeKeywords = map[Mode]map[string]struct{}{
	ModeTask: keywordSet(
		"task", "continue", "work", "implement", "build", "finish", "resume",
		"complete", "ship", "deliver", "progress", "todo", "next",
	),
	ModeDebugging: keywordSet(
		"debug", "debugging", "fix", "bug", "error", "failure", "crash",
		"broken", "regression", "investigate", "diagnose", "trace", "panic",
	),
	ModeExploration: keywordSet(
		"explore", "exploration", "query", "search", "architecture", "design",
		"compare", "evaluate", "research", "options", "alternatives", "why",
	),
	ModeLearning: keywordSet(
		"learn", "learning", "onboarding", "onboard", "teach", "explain",
		"understand", "overview", "introduction", "history", "context",
	),
}

func keywordSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// DetectMode classifies an intent string. Confidence is the fraction of
// intent tokens that voted for the winning mode; an empty intent yields
// general with zero confidence.
func DetectMode(intent string) (Mode, float64) {
	tokens := tokenizeIntent(intent)
	if len(tokens) == 0 {
		return ModeGeneral, 0
	}

	votes := map[Mode]int{}
	for _, tok := range tokens {
		for mode, words := range modeKeywords {
			if _, ok := words[tok]; ok {
				votes[mode]++
			}
		}
	}

	best := ModeGeneral
	bestVotes := 0
	// Deterministic winner on ties: fixed mode order.
	for _, mode := range []Mode{ModeTask, ModeDebugging, ModeExploration, ModeLearning} {
		if votes[mode] > bestVotes {
			best = mode
			bestVotes = votes[mode]
		}
	}
	if bestVotes == 0 {
		return ModeGeneral, 0
	}
	return best, float64(bestVotes) / float64(len(tokens))
}

func tokenizeIntent(intent string) []string {
	return strings.FieldsFunc(strings.ToLower(intent), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// sectionBudgets is the per-mode fraction of max_tokens granted to each
// section, in packing order. Fractions per mode sum to 1.0.
var sectionBudgets = map[Mode]map[string]float64{
	ModeTask: {
		SectionSticky:    0.10,
		SectionRules:     0.05,
		SectionDecisions: 0.15,
		SectionTasks:     0.25,
		SectionCapsules:  0.05,
		SectionRecent:    0.15,
		SectionRetrieved: 0.20,
		SectionHandoff:   0.05,
	},
	ModeDebugging: {
		SectionSticky:    0.15,
		SectionRules:     0.05,
		SectionDecisions: 0.10,
		SectionTasks:     0.10,
		SectionCapsules:  0.05,
		SectionRecent:    0.30,
		SectionRetrieved: 0.20,
		SectionHandoff:   0.05,
	},
	ModeExploration: {
		SectionSticky:    0.05,
		SectionRules:     0.05,
		SectionDecisions: 0.20,
		SectionTasks:     0.05,
		SectionCapsules:  0.10,
		SectionRecent:    0.10,
		SectionRetrieved: 0.35,
		SectionHandoff:   0.10,
	},
	ModeLearning: {
		SectionSticky:    0.05,
		SectionRules:     0.10,
		SectionDecisions: 0.15,
		SectionTasks:     0.05,
		SectionCapsules:  0.10,
		SectionRecent:    0.10,
		SectionRetrieved: 0.30,
		SectionHandoff:   0.15,
	},
	ModeGeneral: {
		SectionSticky:    0.10,
		SectionRules:     0.10,
		SectionDecisions: 0.15,
		SectionTasks:     0.10,
		SectionCapsules:  0.10,
		SectionRecent:    0.20,
		SectionRetrieved: 0.20,
		SectionHandoff:   0.05,
	},
}

// budgetFor returns the token sub-budget for one section under a mode.
func budgetFor(mode Mode, section string, maxTokens int) int {
	fractions, ok := sectionBudgets[mode]
	if !ok {
		fractions = sectionBudgets[ModeGeneral]
	}
	return int(float64(maxTokens) * fractions[section])
}
