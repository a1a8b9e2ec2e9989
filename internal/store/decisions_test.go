package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

func recordTestDecision(t *testing.T, db *sql.DB, in *DecisionInput) *models.Decision {
	t.Helper()
	d, err := RecordDecision(db, testTenant, testActor, in)
	require.NoError(t, err)
	return d
}

func TestRecordDecision_Basic(t *testing.T) {
	db := setupTestDB(t)

	d := recordTestDecision(t, db, &DecisionInput{
		Scope:     models.ScopeProject,
		Decision:  "use sqlite for local state",
		Rationale: []string{"zero ops", "single binary"},
		ProjectID: "proj-1",
	})

	assert.Equal(t, models.DecisionActive, d.Status)
	assert.Equal(t, 1, d.Version)

	got, err := GetDecision(db, testTenant, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "use sqlite for local state", got.Decision)
	assert.Equal(t, []string{"zero ops", "single binary"}, got.Rationale)
}

func TestRecordDecision_Supersession(t *testing.T) {
	db := setupTestDB(t)

	first := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "store blobs inline", ProjectID: "proj-1",
	})
	second := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "store blobs content-addressed",
		ProjectID: "proj-1", SupersedesID: first.ID,
	})

	// The successor cites its predecessor.
	assert.Contains(t, second.Refs, first.ID)

	// The predecessor flipped in the same transaction.
	old, err := GetDecision(db, testTenant, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionSuperseded, old.Status)
	assert.Equal(t, first.Version+1, old.Version)
}

func TestRecordDecision_SupersedeNonActiveConflicts(t *testing.T) {
	db := setupTestDB(t)

	first := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "v1", ProjectID: "proj-1",
	})
	recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "v2", ProjectID: "proj-1", SupersedesID: first.ID,
	})

	// first is already superseded; a second supersession of it must lose.
	_, err := RecordDecision(db, testTenant, testActor, &DecisionInput{
		Scope: models.ScopeProject, Decision: "v2-competing", ProjectID: "proj-1", SupersedesID: first.ID,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConflict), "got %v", err)
}

func TestRecordDecision_SupersedeMissingPredecessor(t *testing.T) {
	db := setupTestDB(t)

	_, err := RecordDecision(db, testTenant, testActor, &DecisionInput{
		Scope: models.ScopeProject, Decision: "orphan successor", SupersedesID: "dec_missing",
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestActiveDecisions_ScopePrecedence(t *testing.T) {
	db := setupTestDB(t)

	session := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeSession, Decision: "session-level choice",
		SubjectType: "repo", SubjectID: "r1",
	})
	policy := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopePolicy, Decision: "policy-level rule",
		SubjectType: "repo", SubjectID: "r1",
	})
	project := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "project-level choice",
		SubjectType: "repo", SubjectID: "r1",
	})

	active, err := ActiveDecisions(db, testTenant, ActiveDecisionsFilter{
		SubjectType: "repo", SubjectID: "r1",
	}, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, policy.ID, active[0].ID)
	assert.Equal(t, project.ID, active[1].ID)
	assert.Equal(t, session.ID, active[2].ID)
}

func TestActiveDecisions_ExcludesSuperseded(t *testing.T) {
	db := setupTestDB(t)

	first := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "old", ProjectID: "proj-1",
	})
	second := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "new", ProjectID: "proj-1", SupersedesID: first.ID,
	})

	active, err := ActiveDecisions(db, testTenant, ActiveDecisionsFilter{ProjectID: "proj-1"}, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestActiveDecisions_RetractDoesNotReactivatePredecessor(t *testing.T) {
	db := setupTestDB(t)

	first := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "old", ProjectID: "proj-1",
	})
	second := recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "new", ProjectID: "proj-1", SupersedesID: first.ID,
	})

	// Retract the successor: the ledger still says the predecessor was
	// superseded, so nothing comes back.
	_, err := ProposeEdit(db, testTenant, testActor, &EditInput{
		TargetType:  models.EditTargetDecision,
		TargetID:    second.ID,
		Op:          models.EditOpRetract,
		Reason:      "recorded in error",
		ProposedBy:  testActor.ID,
		AutoApprove: true,
	})
	require.NoError(t, err)

	active, err := ActiveDecisions(db, testTenant, ActiveDecisionsFilter{ProjectID: "proj-1"}, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDecisionChain_WalksBackwards(t *testing.T) {
	db := setupTestDB(t)

	d1 := recordTestDecision(t, db, &DecisionInput{Scope: models.ScopeProject, Decision: "v1"})
	d2 := recordTestDecision(t, db, &DecisionInput{Scope: models.ScopeProject, Decision: "v2", SupersedesID: d1.ID})
	d3 := recordTestDecision(t, db, &DecisionInput{Scope: models.ScopeProject, Decision: "v3", SupersedesID: d2.ID})

	chain, err := DecisionChain(db, testTenant, d3.ID, 0)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, d3.ID, chain[0].ID)
	assert.Equal(t, d2.ID, chain[1].ID)
	assert.Equal(t, d1.ID, chain[2].ID)
}
