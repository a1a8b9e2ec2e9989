package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

func TestProposeEdit_StartsPending(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "subject of an edit")

	e, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetChunk,
		TargetID:   res.ChunkIDs[0],
		Op:         models.EditOpRetract,
		Reason:     "superseded by later discussion",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EditPending, e.Status)
	assert.Equal(t, testActor.ID, e.ProposedBy)
	assert.Empty(t, e.ApprovedBy)
	assert.Nil(t, e.AppliedAt)
}

func TestProposeEdit_AutoApproveStampsApplied(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "subject of an edit")

	e, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType:  models.EditTargetChunk,
		TargetID:    res.ChunkIDs[0],
		Op:          models.EditOpQuarantine,
		Reason:      "possible prompt injection",
		AutoApprove: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EditApproved, e.Status)
	assert.Equal(t, testActor.ID, e.ApprovedBy)
	require.NotNil(t, e.AppliedAt)
}

func TestProposeEdit_MissingTarget(t *testing.T) {
	db := setupTestDB(t)

	_, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetChunk,
		TargetID:   "chk_missing",
		Op:         models.EditOpRetract,
		Reason:     "nothing there",
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestProposeEdit_PatchValidation(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "patch validation target")

	badImp := 1.5
	tests := []struct {
		name  string
		op    models.EditOp
		patch models.EditPatch
	}{
		{"amend without fields", models.EditOpAmend, models.EditPatch{}},
		{"attenuate without fields", models.EditOpAttenuate, models.EditPatch{}},
		{"attenuate out of range", models.EditOpAttenuate, models.EditPatch{Importance: &badImp}},
		{"block without channel", models.EditOpBlock, models.EditPatch{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ProposeEdit(db, testTenant, testActor, &EditInput{
				TargetType: models.EditTargetChunk,
				TargetID:   res.ChunkIDs[0],
				Op:         tt.op,
				Reason:     "test",
				Patch:      tt.patch,
			})
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindInvalidArgument), "got %v", err)
		})
	}
}

func TestApproveEdit_TakesEffect(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "awaiting judgment")

	e, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetChunk,
		TargetID:   res.ChunkIDs[0],
		Op:         models.EditOpRetract,
		Reason:     "wrong facts",
	})
	require.NoError(t, err)

	reviewer := models.Actor{Type: models.ActorHuman, ID: "reviewer-1"}
	approved, err := ApproveEdit(db, testTenant, reviewer, e.ID, reviewer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EditApproved, approved.Status)
	assert.Equal(t, "reviewer-1", approved.ApprovedBy)
	require.NotNil(t, approved.AppliedAt)

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRejectEdit_NeverTakesEffect(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "survives rejection")

	e, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetChunk,
		TargetID:   res.ChunkIDs[0],
		Op:         models.EditOpRetract,
		Reason:     "questionable",
	})
	require.NoError(t, err)

	rejected, err := RejectEdit(db, testTenant, testActor, e.ID, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, models.EditRejected, rejected.Status)
	assert.Nil(t, rejected.AppliedAt)

	chunks, err := GetEffectiveChunks(db, testTenant, res.ChunkIDs, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	// The rejected edit stays in the log.
	edits, err := ListEdits(db, testTenant, EditFilter{TargetID: res.ChunkIDs[0]})
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, models.EditRejected, edits[0].Status)
}

func TestResolveEdit_NonPendingConflicts(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "double resolution")

	e, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetChunk,
		TargetID:   res.ChunkIDs[0],
		Op:         models.EditOpRetract,
		Reason:     "first",
	})
	require.NoError(t, err)

	_, err = ApproveEdit(db, testTenant, testActor, e.ID, testActor.ID)
	require.NoError(t, err)

	_, err = RejectEdit(db, testTenant, testActor, e.ID, testActor.ID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConflict))

	_, err = ApproveEdit(db, testTenant, testActor, e.ID, testActor.ID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConflict))
}

func TestListEdits_Filters(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "filter target")
	d := recordTestDecision(t, db, &DecisionInput{Scope: models.ScopeProject, Decision: "filter decision"})

	_, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetChunk, TargetID: res.ChunkIDs[0],
		Op: models.EditOpRetract, Reason: "chunk edit",
	})
	require.NoError(t, err)
	_, err = ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetDecision, TargetID: d.ID,
		Op: models.EditOpRetract, Reason: "decision edit", AutoApprove: true,
	})
	require.NoError(t, err)

	all, err := ListEdits(db, testTenant, EditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	chunkOnly, err := ListEdits(db, testTenant, EditFilter{TargetType: models.EditTargetChunk})
	require.NoError(t, err)
	require.Len(t, chunkOnly, 1)
	assert.Equal(t, res.ChunkIDs[0], chunkOnly[0].TargetID)

	pending, err := ListEdits(db, testTenant, EditFilter{Status: models.EditPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.EditTargetChunk, pending[0].TargetType)
}
