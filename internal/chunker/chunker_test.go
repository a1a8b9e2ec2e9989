package chunker

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

func messageEvent(actorType models.ActorType, text string, tags ...string) *models.Event {
	content, _ := json.Marshal(map[string]string{"text": text})
	return &models.Event{
		Kind:    models.EventKindMessage,
		Actor:   models.Actor{Type: actorType, ID: "a1"},
		Tags:    tags,
		Content: content,
	}
}

func TestDerive_MessageParagraphGrouping(t *testing.T) {
	// Short paragraphs share a chunk; the blank-line structure survives.
	ev := messageEvent(models.ActorHuman, "first paragraph\n\nsecond paragraph")
	chunks, err := Derive(ev)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "first paragraph\n\nsecond paragraph", chunks[0].Text)

	// A paragraph that would cross the token cap starts a new chunk.
	big := strings.Repeat("word ", 3000)
	ev = messageEvent(models.ActorHuman, "intro\n\n"+big)
	chunks, err = Derive(ev)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "intro", chunks[0].Text)
}

func TestDerive_EmptyMessageYieldsNoChunks(t *testing.T) {
	ev := messageEvent(models.ActorHuman, "   \n\n  ")
	chunks, err := Derive(ev)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDerive_UnknownKind(t *testing.T) {
	_, err := Derive(&models.Event{Kind: "hologram"})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}

func TestDerive_InvalidContentJSON(t *testing.T) {
	_, err := Derive(&models.Event{Kind: models.EventKindMessage, Content: []byte(`{`)})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}

func TestDerive_ToolCallSummary(t *testing.T) {
	content, _ := json.Marshal(map[string]any{
		"tool": "grep",
		"args": map[string]string{"pattern": "TODO"},
	})
	chunks, err := Derive(&models.Event{Kind: models.EventKindToolCall, Content: content})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, `tool call: grep {"pattern":"TODO"}`, chunks[0].Text)
}

func TestDerive_ToolResultPrefersExcerpt(t *testing.T) {
	content, _ := json.Marshal(map[string]any{
		"excerpt_text": "3 matches",
		"result":       map[string]int{"count": 3},
	})
	chunks, err := Derive(&models.Event{Kind: models.EventKindToolResult, Content: content})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "3 matches", chunks[0].Text)
}

func TestDerive_DecisionJoinsRationale(t *testing.T) {
	content, _ := json.Marshal(map[string]any{
		"decision":  "adopt sqlite",
		"rationale": []string{"zero ops", "portable"},
	})
	chunks, err := Derive(&models.Event{Kind: models.EventKindDecision, Content: content})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "adopt sqlite - zero ops - portable", chunks[0].Text)
}

func TestDerive_TaskUpdateSummaryLine(t *testing.T) {
	content, _ := json.Marshal(map[string]string{"title": "ship release", "status": "doing"})
	chunks, err := Derive(&models.Event{Kind: models.EventKindTaskUpdate, Content: content})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "task_update [doing] ship release", chunks[0].Text)
}

func TestDerive_TruncatesOversizedText(t *testing.T) {
	ev := messageEvent(models.ActorHuman, strings.Repeat("a", MaxChunkTextBytes+500))
	chunks, err := Derive(ev)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Text, MaxChunkTextBytes)
}

func TestDerive_TruncationKeepsRunesWhole(t *testing.T) {
	// Three-byte runes that do not divide the byte cap evenly: a naive cut
	// would leave a split rune at the end.
	ev := messageEvent(models.ActorHuman, strings.Repeat("世", MaxChunkTextBytes/3+100))
	chunks, err := Derive(ev)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.True(t, utf8.ValidString(chunks[0].Text))
	assert.LessOrEqual(t, len(chunks[0].Text), MaxChunkTextBytes)
	assert.Greater(t, len(chunks[0].Text), MaxChunkTextBytes-utf8.UTFMax)
}

func TestImportanceSeed(t *testing.T) {
	tests := []struct {
		name string
		ev   *models.Event
		want float64
	}{
		{"decision", &models.Event{Kind: models.EventKindDecision}, 1.0},
		{"task update", &models.Event{Kind: models.EventKindTaskUpdate}, 0.7},
		{"human message", &models.Event{Kind: models.EventKindMessage, Actor: models.Actor{Type: models.ActorHuman}}, 0.5},
		{"agent message", &models.Event{Kind: models.EventKindMessage, Actor: models.Actor{Type: models.ActorAgent}}, 0.3},
		{"tool call", &models.Event{Kind: models.EventKindToolCall}, 0.4},
		{"pinned boost", &models.Event{Kind: models.EventKindMessage, Actor: models.Actor{Type: models.ActorAgent}, Tags: []string{"pinned"}}, 0.5},
		{"correction boost", &models.Event{Kind: models.EventKindMessage, Actor: models.Actor{Type: models.ActorHuman}, Tags: []string{"correction"}}, 0.6},
		{"high sensitivity penalty", &models.Event{Kind: models.EventKindMessage, Actor: models.Actor{Type: models.ActorHuman}, Sensitivity: models.SensitivityHigh}, 0.45},
		{"secret penalty", &models.Event{Kind: models.EventKindMessage, Actor: models.Actor{Type: models.ActorHuman}, Sensitivity: models.SensitivitySecret}, 0.4},
		{"clamped at one", &models.Event{Kind: models.EventKindDecision, Tags: []string{"important", "safety"}}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, importanceSeed(tt.ev), 1e-9)
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))

	// Deterministic: same input, same estimate.
	text := "the quick brown fox jumps over the lazy dog"
	assert.Equal(t, EstimateTokens(text), EstimateTokens(text))

	// Longer text costs more tokens.
	assert.Greater(t, EstimateTokens(strings.Repeat(text, 10)), EstimateTokens(text))
}
