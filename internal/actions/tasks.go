package actions

import (
	"database/sql"

	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// CreateTask inserts a task with its dependency edges.
func CreateTask(db *sql.DB, tenantID string, actor models.Actor, in *store.TaskInput) (*models.Task, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	t, err := store.CreateTask(db, tenantID, actor, in)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "create_task", "", err.Error())
		return nil, err
	}
	return t, nil
}

// UpdateTask applies a partial update with optimistic concurrency.
func UpdateTask(db *sql.DB, tenantID string, actor models.Actor, taskID string, expectedVersion int, p *store.TaskPatch) (*models.Task, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "task id is required")
	}
	t, err := store.UpdateTask(db, tenantID, actor, taskID, expectedVersion, p)
	if err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "update_task", taskID, err.Error())
		return nil, err
	}
	return t, nil
}

// GetTask returns one task with both dependency directions.
func GetTask(db *sql.DB, tenantID, taskID string) (*models.Task, error) {
	if taskID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "task id is required")
	}
	return store.GetTask(db, tenantID, taskID)
}

// ListTasks returns tasks matching the filter.
func ListTasks(db *sql.DB, tenantID string, f store.TaskFilter) ([]*models.Task, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown task status: %q", f.Status)
	}
	return store.ListTasks(db, tenantID, f)
}

// DeleteTask removes a task and its dependency edges.
func DeleteTask(db *sql.DB, tenantID string, actor models.Actor, taskID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if taskID == "" {
		return models.Errf(models.KindInvalidArgument, "task id is required")
	}
	if err := store.DeleteTask(db, tenantID, actor, taskID); err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "delete_task", taskID, err.Error())
		return err
	}
	return nil
}

// AddTaskBlocker records a blocked_by edge, rejecting cycles.
func AddTaskBlocker(db *sql.DB, tenantID string, actor models.Actor, taskID, blockerID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if taskID == "" || blockerID == "" {
		return models.Errf(models.KindInvalidArgument, "task id and blocker id are required")
	}
	if err := store.AddTaskBlocker(db, tenantID, actor, taskID, blockerID); err != nil {
		store.AppendAuditFailure(db, tenantID, actor, "add_task_blocker", taskID, err.Error())
		return err
	}
	return nil
}

// RemoveTaskBlocker removes a blocked_by edge.
func RemoveTaskBlocker(db *sql.DB, tenantID string, actor models.Actor, taskID, blockerID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if taskID == "" || blockerID == "" {
		return models.Errf(models.KindInvalidArgument, "task id and blocker id are required")
	}
	return store.RemoveTaskBlocker(db, tenantID, actor, taskID, blockerID)
}

// GetProjectSummary aggregates a project's task state and decisions.
func GetProjectSummary(db *sql.DB, tenantID, projectID string) (*store.ProjectSummary, error) {
	return store.GetProjectSummary(db, tenantID, projectID)
}
