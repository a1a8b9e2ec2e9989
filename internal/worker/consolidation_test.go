package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

const testTenant = "tenant-a"

var testActor = models.Actor{Type: models.ActorAgent, ID: "agent-1"}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConfig() app.Config {
	return app.Config{
		ConsolidationIntervalSeconds: 300,
		ConsolidationBatchSize:       100,
		RetentionAuditDays:           90,
		ReflectionMinHandoffs:        5,
	}
}

func TestRunOnce_EmptyDatabase(t *testing.T) {
	c := New(setupTestDB(t), testConfig())

	require.NoError(t, c.RunOnce(context.Background()))

	job, err := store.LastConsolidationJob(c.db)
	require.NoError(t, err)
	assert.Equal(t, "ok", job.Status)
	require.NotNil(t, job.FinishedAt)
	assert.Zero(t, job.TenantsRefreshed)
	assert.Zero(t, job.CapsulesExpired)
}

func TestRunOnce_FullPass(t *testing.T) {
	db := setupTestDB(t)
	c := New(db, testConfig())

	// A capsule already past expiry.
	content, _ := json.Marshal(map[string]string{"text": "capsule payload"})
	res, err := store.RecordEvent(db, testTenant, &store.EventInput{
		SessionID: "sess-1", Channel: models.ChannelPrivate, Actor: testActor,
		Kind: models.EventKindMessage, Content: content,
	})
	require.NoError(t, err)
	capsule, err := store.CreateCapsule(db, testTenant, testActor, &store.CapsuleInput{
		Scope: models.ScopeProject, SubjectType: "repo", SubjectID: "r1",
		AuthorAgentID: testActor.ID, Audience: []string{"agent-2"},
		Items: models.CapsuleItems{Chunks: res.ChunkIDs}, TTLDays: 1,
	}, 1, 365)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE capsules SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour).UnixMicro(), capsule.ID)
	require.NoError(t, err)

	// Enough handoffs for a reflection.
	for i := 1; i <= 5; i++ {
		_, err = store.CreateHandoff(db, testTenant, testActor, &store.HandoffInput{
			WithWhom:    "user-1",
			SessionID:   fmt.Sprintf("sess-%d", i),
			Experienced: fmt.Sprintf("session %d", i),
			Learned:     fmt.Sprintf("lesson %d", i),
		})
		require.NoError(t, err)
	}

	require.NoError(t, c.RunOnce(context.Background()))

	job, err := store.LastConsolidationJob(db)
	require.NoError(t, err)
	assert.Equal(t, "ok", job.Status)
	assert.EqualValues(t, 1, job.CapsulesExpired)
	assert.Equal(t, 1, job.TenantsRefreshed)
	assert.Equal(t, 1, job.ReflectionsWritten)

	r, err := store.GetReflection(db, testTenant, "user-1")
	require.NoError(t, err)
	assert.Len(t, r.SourceHandoffIDs, 5)

	// A second pass is a no-op but still records its job row.
	require.NoError(t, c.RunOnce(context.Background()))
	job, err = store.LastConsolidationJob(db)
	require.NoError(t, err)
	assert.Zero(t, job.CapsulesExpired)
	assert.Zero(t, job.ReflectionsWritten)
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := New(setupTestDB(t), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancellation")
	}

	// The immediate first pass left a job row behind.
	_, err := store.LastConsolidationJob(c.db)
	require.NoError(t, err)
}
