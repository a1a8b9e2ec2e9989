package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

func createTestTask(t *testing.T, db *sql.DB, title string, in *TaskInput) *models.Task {
	t.Helper()
	if in == nil {
		in = &TaskInput{}
	}
	in.Title = title
	task, err := CreateTask(db, testTenant, testActor, in)
	require.NoError(t, err)
	return task
}

func TestCreateTask_Defaults(t *testing.T) {
	db := setupTestDB(t)

	task := createTestTask(t, db, "wire the scheduler", nil)
	assert.Equal(t, models.TaskStatusBacklog, task.Status)
	assert.Equal(t, 1, task.Version)
	assert.Zero(t, task.ProgressPercent)

	got, err := GetTask(db, testTenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "wire the scheduler", got.Title)
}

func TestUpdateTask_VersionCAS(t *testing.T) {
	db := setupTestDB(t)

	task := createTestTask(t, db, "contended task", nil)

	doing := models.TaskStatusDoing
	updated, err := UpdateTask(db, testTenant, testActor, task.ID, task.Version, &TaskPatch{Status: &doing})
	require.NoError(t, err)
	assert.Equal(t, task.Version+1, updated.Version)
	assert.Equal(t, models.TaskStatusDoing, updated.Status)

	// A writer holding the stale version loses.
	title := "stale write"
	_, err = UpdateTask(db, testTenant, testActor, task.ID, task.Version, &TaskPatch{Title: &title})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConflict), "got %v", err)
}

func TestUpdateTask_ZeroVersionSkipsCheck(t *testing.T) {
	db := setupTestDB(t)

	task := createTestTask(t, db, "relaxed task", nil)
	p := 3
	updated, err := UpdateTask(db, testTenant, testActor, task.ID, 0, &TaskPatch{Priority: &p})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Priority)
}

func TestUpdateTask_DoneForcesFullProgress(t *testing.T) {
	db := setupTestDB(t)

	task := createTestTask(t, db, "almost there", nil)
	done := models.TaskStatusDone
	updated, err := UpdateTask(db, testTenant, testActor, task.ID, 0, &TaskPatch{Status: &done})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, updated.Status)
	assert.Equal(t, 100, updated.ProgressPercent)
}

func TestTaskBlockers_EdgesBothDirections(t *testing.T) {
	db := setupTestDB(t)

	blocker := createTestTask(t, db, "schema migration", nil)
	blocked := createTestTask(t, db, "backfill job", &TaskInput{BlockedBy: []string{}})

	require.NoError(t, AddTaskBlocker(db, testTenant, testActor, blocked.ID, blocker.ID))

	got, err := GetTask(db, testTenant, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{blocker.ID}, got.BlockedBy)

	rev, err := GetTask(db, testTenant, blocker.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{blocked.ID}, rev.Blocking)

	require.NoError(t, RemoveTaskBlocker(db, testTenant, testActor, blocked.ID, blocker.ID))
	got, err = GetTask(db, testTenant, blocked.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BlockedBy)
}

func TestTaskBlockers_SelfReferenceRejected(t *testing.T) {
	db := setupTestDB(t)

	task := createTestTask(t, db, "self-aware task", nil)
	err := AddTaskBlocker(db, testTenant, testActor, task.ID, task.ID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}

func TestTaskBlockers_CycleRejected(t *testing.T) {
	db := setupTestDB(t)

	a := createTestTask(t, db, "a", nil)
	b := createTestTask(t, db, "b", nil)
	c := createTestTask(t, db, "c", nil)

	require.NoError(t, AddTaskBlocker(db, testTenant, testActor, a.ID, b.ID))
	require.NoError(t, AddTaskBlocker(db, testTenant, testActor, b.ID, c.ID))

	// c blocked by a would close the loop a <- b <- c <- a.
	err := AddTaskBlocker(db, testTenant, testActor, c.ID, a.ID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument), "got %v", err)
}

func TestTaskBlockers_DuplicateEdgeIsNoop(t *testing.T) {
	db := setupTestDB(t)

	a := createTestTask(t, db, "a", nil)
	b := createTestTask(t, db, "b", nil)

	require.NoError(t, AddTaskBlocker(db, testTenant, testActor, a.ID, b.ID))
	require.NoError(t, AddTaskBlocker(db, testTenant, testActor, a.ID, b.ID))

	got, err := GetTask(db, testTenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, got.BlockedBy)
}

func TestListTasks_FilterAndOrder(t *testing.T) {
	db := setupTestDB(t)

	createTestTask(t, db, "low", &TaskInput{Priority: 1, ProjectRefs: []string{"proj-1"}})
	high := createTestTask(t, db, "high", &TaskInput{Priority: 9, ProjectRefs: []string{"proj-1"}})
	createTestTask(t, db, "elsewhere", &TaskInput{Priority: 5, ProjectRefs: []string{"proj-2"}})

	tasks, err := ListTasks(db, testTenant, TaskFilter{ProjectRef: "proj-1"})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, high.ID, tasks[0].ID)
}

func TestDeleteTask_RemovesEdges(t *testing.T) {
	db := setupTestDB(t)

	a := createTestTask(t, db, "a", nil)
	b := createTestTask(t, db, "b", nil)
	require.NoError(t, AddTaskBlocker(db, testTenant, testActor, a.ID, b.ID))

	require.NoError(t, DeleteTask(db, testTenant, testActor, b.ID))

	_, err := GetTask(db, testTenant, b.ID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))

	got, err := GetTask(db, testTenant, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BlockedBy)

	err = DeleteTask(db, testTenant, testActor, b.ID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestGetProjectSummary(t *testing.T) {
	db := setupTestDB(t)

	createTestTask(t, db, "t1", &TaskInput{ProjectRefs: []string{"proj-1"}})
	doing := createTestTask(t, db, "t2", &TaskInput{ProjectRefs: []string{"proj-1"}})
	st := models.TaskStatusDoing
	_, err := UpdateTask(db, testTenant, testActor, doing.ID, 0, &TaskPatch{Status: &st})
	require.NoError(t, err)

	recordTestDecision(t, db, &DecisionInput{
		Scope: models.ScopeProject, Decision: "project rule", ProjectID: "proj-1",
	})

	summary, err := GetProjectSummary(db, testTenant, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TaskCounts[models.TaskStatusBacklog])
	assert.Equal(t, 1, summary.TaskCounts[models.TaskStatusDoing])
	assert.Equal(t, 1, summary.ActiveDecisions)
	require.NotNil(t, summary.LastActivity)

	// Most recently touched task leads the recent list.
	require.Len(t, summary.RecentTasks, 2)
	assert.Equal(t, doing.ID, summary.RecentTasks[0].ID)
	assert.Empty(t, summary.BlockingTasks)
}

func TestGetProjectSummary_BlockingTasks(t *testing.T) {
	db := setupTestDB(t)

	gate := createTestTask(t, db, "schema migration", &TaskInput{ProjectRefs: []string{"proj-1"}})
	waiting := createTestTask(t, db, "backfill job", &TaskInput{ProjectRefs: []string{"proj-1"}})
	createTestTask(t, db, "unrelated", &TaskInput{ProjectRefs: []string{"proj-1"}})

	require.NoError(t, AddTaskBlocker(db, testTenant, testActor, waiting.ID, gate.ID))
	blocked := models.TaskStatusBlocked
	_, err := UpdateTask(db, testTenant, testActor, waiting.ID, 0, &TaskPatch{Status: &blocked})
	require.NoError(t, err)

	summary, err := GetProjectSummary(db, testTenant, "proj-1")
	require.NoError(t, err)

	// Both sides of the edge surface: the blocked task and the task it
	// waits on. The unrelated task stays out.
	require.Len(t, summary.BlockingTasks, 2)
	ids := []string{summary.BlockingTasks[0].ID, summary.BlockingTasks[1].ID}
	assert.Contains(t, ids, gate.ID)
	assert.Contains(t, ids, waiting.ID)

	for _, bt := range summary.BlockingTasks {
		if bt.ID == waiting.ID {
			assert.Equal(t, []string{gate.ID}, bt.BlockedBy)
		}
		if bt.ID == gate.ID {
			assert.Equal(t, []string{waiting.ID}, bt.Blocking)
		}
	}
	assert.Len(t, summary.RecentTasks, 3)
}
