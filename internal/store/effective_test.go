package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

func approveChunkEdit(t *testing.T, db *sql.DB, tenant, chunkID string, op models.EditOp, patch models.EditPatch) {
	t.Helper()
	_, err := ProposeEdit(db, tenant, testActor, &EditInput{
		TargetType:  models.EditTargetChunk,
		TargetID:    chunkID,
		Op:          op,
		Reason:      "test " + string(op),
		ProposedBy:  testActor.ID,
		Patch:       patch,
		AutoApprove: true,
	})
	require.NoError(t, err)
}

func TestEffective_RetractHidesChunk(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "to be retracted")

	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpRetract, models.EditPatch{})

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestEffective_AmendReplacesTextAndImportance(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "the original text")

	text := "the corrected text"
	imp := 0.9
	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpAmend,
		models.EditPatch{Text: &text, Importance: &imp})

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "the corrected text", chunks[0].Text)
	assert.InDelta(t, 0.9, chunks[0].Importance, 1e-9)
	assert.Equal(t, 1, chunks[0].EditsApplied)
}

func TestEffective_LatestAmendWins(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "v1")

	v2, v3 := "v2", "v3"
	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpAmend, models.EditPatch{Text: &v2})
	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpAmend, models.EditPatch{Text: &v3})

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "v3", chunks[0].Text)
	assert.Equal(t, 2, chunks[0].EditsApplied)
}

func TestEffective_AttenuateAccumulatesAndClamps(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "importance drift")

	abs := 0.5
	d1, d2 := -0.2, -0.6
	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpAttenuate, models.EditPatch{Importance: &abs})
	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpAttenuate, models.EditPatch{ImportanceDelta: &d1})

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.InDelta(t, 0.3, chunks[0].Importance, 1e-9)

	// A further delta past zero clamps rather than going negative.
	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpAttenuate, models.EditPatch{ImportanceDelta: &d2})
	chunks, err = GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Zero(t, chunks[0].Importance)
}

func TestEffective_QuarantineFiltering(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "suspicious memory")

	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpQuarantine, models.EditPatch{})

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{IncludeQuarantined: true})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsQuarantined)
}

func TestEffective_BlockHidesOnChannelOnly(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "not for the team")

	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpBlock,
		models.EditPatch{Channel: models.ChannelTeam})

	blocked, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{Channel: models.ChannelTeam})
	require.NoError(t, err)
	assert.Empty(t, blocked)

	visible, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{Channel: models.ChannelPrivate})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestEffective_RetractBeatsLaterAmend(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "doomed either way")

	revive := "attempted revival"
	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpRetract, models.EditPatch{})
	approveChunkEdit(t, db, testTenant, res.ChunkIDs[0], models.EditOpAmend, models.EditPatch{Text: &revive})

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestEffective_PendingEditHasNoEffect(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "still standing")

	_, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetChunk,
		TargetID:   res.ChunkIDs[0],
		Op:         models.EditOpRetract,
		Reason:     "pending only",
		ProposedBy: testActor.ID,
	})
	require.NoError(t, err)

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "still standing", chunks[0].Text)
	assert.Zero(t, chunks[0].EditsApplied)
}

func TestEffective_SensitivityChannelFilter(t *testing.T) {
	db := setupTestDB(t)

	res, err := RecordEvent(db, testTenant, &EventInput{
		SessionID:   "sess-1",
		Channel:     models.ChannelPrivate,
		Actor:       testActor,
		Kind:        models.EventKindMessage,
		Sensitivity: models.SensitivitySecret,
		Content:     []byte(`{"text":"the launch code"}`),
	})
	require.NoError(t, err)

	public, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{Channel: models.ChannelPublic})
	require.NoError(t, err)
	assert.Empty(t, public)

	private, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{Channel: models.ChannelPrivate})
	require.NoError(t, err)
	assert.Len(t, private, 1)
}
