// Package chunker derives searchable chunks from persisted events. Derivation
// is deterministic: the same event always yields the same chunk texts, token
// estimates, and importance seeds, so chunks can be rebuilt at any time.
package chunker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

const (
	// MaxChunkTextBytes caps a single chunk's text (~8 KiB per the storage
	// resource ceilings).
	MaxChunkTextBytes = 8192

	// paragraphTokenCap is the soft cap per message chunk. Paragraphs are
	// accumulated into one chunk until the next paragraph would cross it.
	paragraphTokenCap = 1000
)

// Derived is one chunk produced from an event, before id assignment.
type Derived struct {
	Text       string
	TokenEst   int
	Importance float64
}

// deriveFunc turns decoded event content into chunk texts.
// Adding an event kind requires a new entry here plus a migration note.
type deriveFunc func(ev *models.Event, content *models.EventContent) []string

//nolint:gochecknoglobals // dispatch table keyed by event kind, initialized once
var deriveByKind = map[models.EventKind]deriveFunc{
	models.EventKindMessage:    deriveMessage,
	models.EventKindToolCall:   deriveToolCall,
	models.EventKindToolResult: deriveToolResult,
	models.EventKindDecision:   deriveDecision,
	models.EventKindTaskUpdate: deriveSummaryLine,
	models.EventKindArtifact:   deriveSummaryLine,
}

// Derive produces 0..N chunks for the event. Events whose content yields no
// text produce no chunks; that is not an error.
func Derive(ev *models.Event) ([]Derived, error) {
	fn, ok := deriveByKind[ev.Kind]
	if !ok {
		return nil, models.Errf(models.KindInvalidArgument, "unknown event kind: %s", ev.Kind)
	}

	var content models.EventContent
	if len(ev.Content) > 0 {
		if err := json.Unmarshal(ev.Content, &content); err != nil {
			return nil, models.WrapErr(models.KindInvalidArgument, err, "event content is not valid JSON")
		}
	}

	seed := importanceSeed(ev)
	texts := fn(ev, &content)

	out := make([]Derived, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if len(text) > MaxChunkTextBytes {
			text = truncateAtRuneBoundary(text, MaxChunkTextBytes)
		}
		out = append(out, Derived{
			Text:       text,
			TokenEst:   EstimateTokens(text),
			Importance: seed,
		})
	}
	return out, nil
}

// truncateAtRuneBoundary cuts text to at most max bytes, backing off so a
// multi-byte rune is never split. Split runes would put invalid UTF-8 into
// chunk storage and the search index.
func truncateAtRuneBoundary(text string, max int) string {
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// EstimateTokens returns a deterministic token estimate for text. The
// heuristic blends byte length (≈4 bytes/token) with whitespace word count;
// identical input always yields the identical number.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byBytes := (len(text) + 3) / 4
	byWords := len(strings.Fields(text)) * 4 / 3
	est := (byBytes + byWords) / 2
	if est < 1 {
		est = 1
	}
	return est
}

// importanceSeed computes the initial importance for every chunk of an event:
// a kind-based seed, plus tag boosts, minus a sensitivity penalty, clamped to
// [0,1].
func importanceSeed(ev *models.Event) float64 {
	var seed float64
	switch ev.Kind {
	case models.EventKindDecision:
		seed = 1.0
	case models.EventKindTaskUpdate:
		seed = 0.7
	case models.EventKindMessage:
		if ev.Actor.Type == models.ActorHuman {
			seed = 0.5
		} else {
			seed = 0.3
		}
	case models.EventKindToolCall, models.EventKindToolResult:
		seed = 0.4
	default:
		seed = 0.3
	}

	for _, tag := range ev.Tags {
		switch tag {
		case "important", "pinned":
			seed += 0.2
		case "correction", "safety":
			seed += 0.1
		}
	}

	switch ev.Sensitivity {
	case models.SensitivityHigh:
		seed -= 0.05
	case models.SensitivitySecret:
		seed -= 0.1
	}

	return clamp01(seed)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// deriveMessage splits message text into logical paragraphs and groups them
// under the soft token cap so one chunk never spans wildly unrelated prose.
func deriveMessage(_ *models.Event, content *models.EventContent) []string {
	text := strings.TrimSpace(content.Text)
	if text == "" {
		return nil
	}

	paragraphs := splitParagraphs(text)
	var chunks []string
	var buf strings.Builder
	bufTokens := 0

	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			bufTokens = 0
		}
	}

	for _, p := range paragraphs {
		pt := EstimateTokens(p)
		if bufTokens > 0 && bufTokens+pt > paragraphTokenCap {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
		bufTokens += pt
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func deriveToolCall(_ *models.Event, content *models.EventContent) []string {
	tool := content.Tool
	if tool == "" {
		tool = "tool"
	}
	summary := fmt.Sprintf("tool call: %s", tool)
	if len(content.Args) > 0 {
		summary += " " + compactJSON(content.Args)
	}
	return []string{summary}
}

func deriveToolResult(_ *models.Event, content *models.EventContent) []string {
	if content.ExcerptText != "" {
		return []string{content.ExcerptText}
	}
	if len(content.Result) > 0 {
		return []string{compactJSON(content.Result)}
	}
	if content.Text != "" {
		return []string{content.Text}
	}
	return nil
}

func deriveDecision(_ *models.Event, content *models.EventContent) []string {
	if content.Decision == "" {
		return nil
	}
	parts := append([]string{content.Decision}, content.Rationale...)
	return []string{strings.Join(parts, " - ")}
}

// deriveSummaryLine handles task_update and artifact events: one chunk from
// title plus status metadata.
func deriveSummaryLine(ev *models.Event, content *models.EventContent) []string {
	title := content.Title
	if title == "" {
		title = content.Text
	}
	if title == "" {
		return nil
	}
	if content.Status != "" {
		return []string{fmt.Sprintf("%s [%s] %s", ev.Kind, content.Status, title)}
	}
	return []string{fmt.Sprintf("%s: %s", ev.Kind, title)}
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
