package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

func createTestCapsule(t *testing.T, db *sql.DB, in *CapsuleInput) *models.Capsule {
	t.Helper()
	if in.Scope == "" {
		in.Scope = models.ScopeProject
	}
	if in.SubjectType == "" {
		in.SubjectType = "repo"
		in.SubjectID = "r1"
	}
	if in.AuthorAgentID == "" {
		in.AuthorAgentID = testActor.ID
	}
	c, err := CreateCapsule(db, testTenant, testActor, in, 1, 365)
	require.NoError(t, err)
	return c
}

func TestCreateCapsule_TTLClamped(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "handoff-worthy context")

	c := createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2"},
		Items:    models.CapsuleItems{Chunks: res.ChunkIDs},
		TTLDays:  10000,
	})
	assert.Equal(t, 365, c.TTLDays)
	assert.Equal(t, models.CapsuleActive, c.Status)

	c = createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2"},
		Items:    models.CapsuleItems{Chunks: res.ChunkIDs},
		TTLDays:  -5,
	})
	assert.Equal(t, 1, c.TTLDays)
}

func TestCreateCapsule_UnresolvedItemRejected(t *testing.T) {
	db := setupTestDB(t)

	_, err := CreateCapsule(db, testTenant, testActor, &CapsuleInput{
		Scope: models.ScopeProject, SubjectType: "repo", SubjectID: "r1",
		AuthorAgentID: testActor.ID,
		Audience:      []string{"agent-2"},
		Items:         models.CapsuleItems{Chunks: []string{"chk_missing"}},
	}, 1, 365)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindIntegrity))
}

func TestAvailableCapsules_AudienceFilter(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "shared context")

	c := createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2", "agent-3"},
		Items:    models.CapsuleItems{Chunks: res.ChunkIDs},
	})

	visible, err := AvailableCapsules(db, testTenant, "agent-2", "", "")
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, c.ID, visible[0].ID)

	hidden, err := AvailableCapsules(db, testTenant, "agent-9", "", "")
	require.NoError(t, err)
	assert.Empty(t, hidden)
}

func TestOpenCapsule_NonAudienceIndistinguishable(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "capsule payload")

	c := createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2"},
		Items:    models.CapsuleItems{Chunks: res.ChunkIDs},
	})

	_, outsiderErr := OpenCapsule(db, testTenant, c.ID, "agent-9", models.ChannelPrivate)
	require.Error(t, outsiderErr)
	assert.True(t, models.IsKind(outsiderErr, models.KindNotFound))

	_, missingErr := OpenCapsule(db, testTenant, "cap_missing", "agent-9", models.ChannelPrivate)
	require.Error(t, missingErr)
	assert.True(t, models.IsKind(missingErr, models.KindNotFound))

	// Same kind and shape either way; the capsule's existence leaks nothing.
	assert.Equal(t, models.KindOf(outsiderErr), models.KindOf(missingErr))
}

func TestOpenCapsule_ExpandsItems(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "chunk for the capsule")
	d := recordTestDecision(t, db, &DecisionInput{Scope: models.ScopeProject, Decision: "ship it"})
	a, err := RegisterArtifact(db, testTenant, testActor, testHash(7), "text/plain", 42)
	require.NoError(t, err)

	c := createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2"},
		Items: models.CapsuleItems{
			Chunks:    res.ChunkIDs,
			Decisions: []string{d.ID},
			Artifacts: []string{a.ID},
		},
	})

	opened, err := OpenCapsule(db, testTenant, c.ID, "agent-2", models.ChannelPrivate)
	require.NoError(t, err)
	require.Len(t, opened.Chunks, 1)
	require.Len(t, opened.Decisions, 1)
	require.Len(t, opened.Artifacts, 1)
	assert.Equal(t, "chunk for the capsule", opened.Chunks[0].Text)
	assert.Equal(t, d.ID, opened.Decisions[0].ID)
	assert.Equal(t, a.ID, opened.Artifacts[0].ID)
}

func TestOpenCapsule_CurationOverridesQuarantineNotRetract(t *testing.T) {
	db := setupTestDB(t)

	quarantined := recordTestMessage(t, db, "sess-1", "quarantined but curated")
	retracted := recordTestMessage(t, db, "sess-1", "retracted and gone")

	c := createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2"},
		Items:    models.CapsuleItems{Chunks: []string{quarantined.ChunkIDs[0], retracted.ChunkIDs[0]}},
	})

	approveChunkEdit(t, db, testTenant, quarantined.ChunkIDs[0], models.EditOpQuarantine, models.EditPatch{})
	approveChunkEdit(t, db, testTenant, retracted.ChunkIDs[0], models.EditOpRetract, models.EditPatch{})

	opened, err := OpenCapsule(db, testTenant, c.ID, "agent-2", models.ChannelPrivate)
	require.NoError(t, err)
	require.Len(t, opened.Chunks, 1)
	assert.Equal(t, quarantined.ChunkIDs[0], opened.Chunks[0].ID)
	assert.True(t, opened.Chunks[0].IsQuarantined)
}

func TestCapsuleRetractEditHidesCapsule(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "retractable capsule payload")

	c := createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2"},
		Items:    models.CapsuleItems{Chunks: res.ChunkIDs},
	})

	// Pending edits change nothing.
	edit, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType: models.EditTargetCapsule,
		TargetID:   c.ID,
		Op:         models.EditOpRetract,
		Reason:     "capsule contents superseded",
	})
	require.NoError(t, err)

	visible, err := AvailableCapsules(db, testTenant, "agent-2", "", "")
	require.NoError(t, err)
	require.Len(t, visible, 1)

	_, err = ApproveEdit(db, testTenant, testActor, edit.ID, "")
	require.NoError(t, err)

	// Once approved, the capsule vanishes from every read, audience or not.
	visible, err = AvailableCapsules(db, testTenant, "agent-2", "", "")
	require.NoError(t, err)
	assert.Empty(t, visible)

	_, err = OpenCapsule(db, testTenant, c.ID, "agent-2", models.ChannelPrivate)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestRevokeCapsule_AuthorOnly(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "revocable")

	c := createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2"},
		Items:    models.CapsuleItems{Chunks: res.ChunkIDs},
	})

	stranger := models.Actor{Type: models.ActorAgent, ID: "agent-9"}
	err := RevokeCapsule(db, testTenant, stranger, c.ID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))

	require.NoError(t, RevokeCapsule(db, testTenant, testActor, c.ID))

	// Revoked capsules no longer open, even for the audience.
	_, err = OpenCapsule(db, testTenant, c.ID, "agent-2", models.ChannelPrivate)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))

	// Revoking twice conflicts for the author.
	err = RevokeCapsule(db, testTenant, testActor, c.ID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConflict))
}

func TestExpireCapsules(t *testing.T) {
	db := setupTestDB(t)
	res := recordTestMessage(t, db, "sess-1", "short-lived")

	c := createTestCapsule(t, db, &CapsuleInput{
		Audience: []string{"agent-2"},
		Items:    models.CapsuleItems{Chunks: res.ChunkIDs},
		TTLDays:  1,
	})

	// Nothing expires yet.
	n, err := ExpireCapsules(db, nowMicros())
	require.NoError(t, err)
	assert.Zero(t, n)

	// Jump past the expiry.
	future := time.Now().Add(48 * time.Hour).UnixMicro()
	n, err = ExpireCapsules(db, future)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	visible, err := AvailableCapsules(db, testTenant, "agent-2", "", "")
	require.NoError(t, err)
	assert.Empty(t, visible)

	_, err = OpenCapsule(db, testTenant, c.ID, "agent-2", models.ChannelPrivate)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}
