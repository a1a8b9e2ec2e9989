package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

func TestConsolidationJob_Lifecycle(t *testing.T) {
	db := setupTestDB(t)

	_, err := LastConsolidationJob(db)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))

	jobID, err := StartConsolidationJob(db)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	running, err := LastConsolidationJob(db)
	require.NoError(t, err)
	assert.Equal(t, "running", running.Status)
	assert.Nil(t, running.FinishedAt)

	counters := ConsolidationCounters{
		TenantsRefreshed:   2,
		CapsulesExpired:    1,
		ReflectionsWritten: 1,
		AuditRowsPruned:    40,
	}
	require.NoError(t, FinishConsolidationJob(db, jobID, counters, nil))

	done, err := LastConsolidationJob(db)
	require.NoError(t, err)
	assert.Equal(t, jobID, done.ID)
	assert.Equal(t, "ok", done.Status)
	assert.Equal(t, 2, done.TenantsRefreshed)
	assert.EqualValues(t, 1, done.CapsulesExpired)
	assert.Equal(t, 1, done.ReflectionsWritten)
	assert.EqualValues(t, 40, done.AuditRowsPruned)
	require.NotNil(t, done.FinishedAt)
	assert.Empty(t, done.LastError)
}

func TestConsolidationJob_RecordsFailure(t *testing.T) {
	db := setupTestDB(t)

	jobID, err := StartConsolidationJob(db)
	require.NoError(t, err)
	require.NoError(t, FinishConsolidationJob(db, jobID, ConsolidationCounters{}, errors.New("tenant pass blew up")))

	last, err := LastConsolidationJob(db)
	require.NoError(t, err)
	assert.Equal(t, "error", last.Status)
	assert.Equal(t, "tenant pass blew up", last.LastError)
}

func TestHandoffTenants(t *testing.T) {
	db := setupTestDB(t)

	tenants, err := HandoffTenants(db)
	require.NoError(t, err)
	assert.Empty(t, tenants)

	createTestHandoff(t, db, &HandoffInput{SessionID: "sess-1"})
	_, err = CreateHandoff(db, "tenant-b", testActor, &HandoffInput{
		WithWhom: "user-9", SessionID: "sess-1", Experienced: "elsewhere",
	})
	require.NoError(t, err)

	tenants, err = HandoffTenants(db)
	require.NoError(t, err)
	assert.Equal(t, []string{testTenant, "tenant-b"}, tenants)
}

func TestRefreshHandoffAggregates_HealsDrift(t *testing.T) {
	db := setupTestDB(t)

	createTestHandoff(t, db, &HandoffInput{SessionID: "sess-1", Significance: 0.9, Tags: []string{"a"}})
	createTestHandoff(t, db, &HandoffInput{SessionID: "sess-2", Significance: 0.2, Tags: []string{"b"}})

	// Corrupt the aggregate, then let the worker path recompute it.
	_, err := db.Exec(`UPDATE handoff_metadata SET session_count = 99, significance_sum = 0 WHERE tenant_id = ?`, testTenant)
	require.NoError(t, err)

	require.NoError(t, RefreshHandoffAggregates(db, testTenant))

	m, err := GetHandoffMetadata(db, testTenant, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, m.SessionCount)
	assert.Equal(t, 1, m.HighSignificanceCount)
	assert.InDelta(t, 0.55, m.SignificanceAvg, 1e-9)
	assert.Equal(t, []string{"a", "b"}, m.AllTags)
}

func TestWriteReflections_MinHandoffGate(t *testing.T) {
	db := setupTestDB(t)

	for i := 1; i <= 4; i++ {
		createTestHandoff(t, db, &HandoffInput{
			SessionID: fmt.Sprintf("sess-%d", i),
			Learned:   fmt.Sprintf("lesson %d", i),
		})
	}

	written, err := WriteReflections(db, testTenant, 5)
	require.NoError(t, err)
	assert.Zero(t, written)

	createTestHandoff(t, db, &HandoffInput{SessionID: "sess-5", Learned: "lesson 5", Significance: 0.9})

	written, err = WriteReflections(db, testTenant, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	r, err := GetReflection(db, testTenant, "user-1")
	require.NoError(t, err)
	assert.Len(t, r.SourceHandoffIDs, 5)
	// Most significant handoff leads the insight list.
	require.NotEmpty(t, r.Insights)
	assert.Equal(t, "lesson 5", r.Insights[0])
}

func TestWriteReflections_InsightCap(t *testing.T) {
	db := setupTestDB(t)

	// Six handoffs with three distinct prose fields each: eighteen candidate
	// insights, far more than one reflection should carry.
	for i := 1; i <= 6; i++ {
		createTestHandoff(t, db, &HandoffInput{
			SessionID: fmt.Sprintf("sess-%d", i),
			Learned:   fmt.Sprintf("learned item %d", i),
			Noticed:   fmt.Sprintf("noticed item %d", i),
			Becoming:  fmt.Sprintf("becoming item %d", i),
		})
	}

	written, err := WriteReflections(db, testTenant, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	r, err := GetReflection(db, testTenant, "user-1")
	require.NoError(t, err)
	assert.Len(t, r.Insights, reflectionInsightLimit)
	assert.Len(t, r.SourceHandoffIDs, 6)
}

func TestWriteReflections_SkipsFreshReflection(t *testing.T) {
	db := setupTestDB(t)

	for i := 1; i <= 5; i++ {
		createTestHandoff(t, db, &HandoffInput{
			SessionID: fmt.Sprintf("sess-%d", i),
			Learned:   fmt.Sprintf("lesson %d", i),
		})
	}

	written, err := WriteReflections(db, testTenant, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	// No new handoffs since: nothing to do.
	written, err = WriteReflections(db, testTenant, 5)
	require.NoError(t, err)
	assert.Zero(t, written)

	// A new handoff makes the cache stale again.
	createTestHandoff(t, db, &HandoffInput{SessionID: "sess-6", Learned: "lesson 6"})
	written, err = WriteReflections(db, testTenant, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
}

func TestPruneAuditBefore_Batched(t *testing.T) {
	db := setupTestDB(t)

	// Every write above leaves audit rows; create a handful.
	for i := 0; i < 5; i++ {
		recordTestMessage(t, db, "sess-1", fmt.Sprintf("event %d", i))
	}

	future := time.Now().Add(time.Hour).UnixMicro()

	n, err := PruneAuditBefore(db, future, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n) // batch cap holds

	total := n
	for {
		n, err = PruneAuditBefore(db, future, 2)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	assert.EqualValues(t, 5, total)

	// Nothing older than a past cutoff remains.
	n, err = PruneAuditBefore(db, time.Now().Add(-time.Hour).UnixMicro(), 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}
