package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

const taskColumns = `id, tenant_id, ts, title, details, status, priority, progress_percent,
       assignee_id, refs, project_refs, start_date, due_date, version, updated_at`

// TaskInput carries the caller-supplied fields of create_task.
type TaskInput struct {
	Title       string
	Details     string
	Status      models.TaskStatus
	Priority    int
	AssigneeID  string
	Refs        []string
	BlockedBy   []string
	ProjectRefs []string
	StartDate   *time.Time
	DueDate     *time.Time
}

// TaskPatch holds the optional fields of update_task. Nil pointers leave the
// stored value unchanged.
type TaskPatch struct {
	Title           *string
	Details         *string
	Status          *models.TaskStatus
	Priority        *int
	ProgressPercent *int
	AssigneeID      *string
	Refs            []string
	ProjectRefs     []string
	StartDate       *time.Time
	DueDate         *time.Time
}

func validateTaskDates(start, due *time.Time) error {
	if start != nil && due != nil && due.Before(*start) {
		return models.Errf(models.KindInvalidArgument, "due_date must not precede start_date")
	}
	return nil
}

// CreateTask inserts a task with its blocked_by edges, rejecting dependency
// cycles up front.
func CreateTask(db *sql.DB, tenantID string, actor models.Actor, in *TaskInput) (*models.Task, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, models.Errf(models.KindInvalidArgument, "title is required")
	}
	if in.Status == "" {
		in.Status = models.TaskStatusBacklog
	}
	if !in.Status.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown task status: %q", in.Status)
	}
	if err := validateTaskDates(in.StartDate, in.DueDate); err != nil {
		return nil, err
	}

	var result *models.Task
	err := Transact(db, func(tx *sql.Tx) error {
		id := generatePrefixedID(idPrefixTask)
		ts := nowMicros()

		_, execErr := tx.Exec(`
			INSERT INTO tasks (id, tenant_id, ts, title, details, status, priority, progress_percent,
			                   assignee_id, refs, project_refs, start_date, due_date, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, 1, ?)
		`, id, tenantID, ts, in.Title, in.Details, string(in.Status), in.Priority,
			nullableText(in.AssigneeID), encodeStrings(in.Refs), encodeStrings(in.ProjectRefs),
			nullableMicros(in.StartDate), nullableMicros(in.DueDate), ts)
		if execErr != nil {
			return fmt.Errorf("failed to insert task: %w", execErr)
		}

		for _, blockerID := range in.BlockedBy {
			if addErr := addBlockerTx(tx, tenantID, id, blockerID); addErr != nil {
				return addErr
			}
		}

		if auditErr := appendAuditTx(tx, tenantID, actor, "create_task", id, AuditOutcomeOK, nil); auditErr != nil {
			return fmt.Errorf("failed to write audit row: %w", auditErr)
		}

		result = &models.Task{
			ID:          id,
			TenantID:    tenantID,
			Ts:          microsToTime(ts),
			Title:       in.Title,
			Details:     in.Details,
			Status:      in.Status,
			Priority:    in.Priority,
			AssigneeID:  in.AssigneeID,
			Refs:        in.Refs,
			BlockedBy:   in.BlockedBy,
			ProjectRefs: in.ProjectRefs,
			StartDate:   in.StartDate,
			DueDate:     in.DueDate,
			Version:     1,
			UpdatedAt:   microsToTime(ts),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateTask applies a partial update guarded by a compare-and-swap on
// version. expectedVersion 0 means "no concurrency check".
func UpdateTask(db *sql.DB, tenantID string, actor models.Actor, taskID string, expectedVersion int, p *TaskPatch) (*models.Task, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown task status: %q", *p.Status)
	}
	if p.ProgressPercent != nil && (*p.ProgressPercent < 0 || *p.ProgressPercent > 100) {
		return nil, models.Errf(models.KindInvalidArgument, "progress_percent must be in [0,100]")
	}

	var result *models.Task
	err := Transact(db, func(tx *sql.Tx) error {
		cur, getErr := taskByIDTx(tx, tenantID, taskID)
		if getErr != nil {
			return getErr
		}
		if expectedVersion > 0 && cur.Version != expectedVersion {
			return models.Errf(models.KindConflict, "task version mismatch: have %d, want %d", cur.Version, expectedVersion)
		}

		next := *cur
		if p.Title != nil {
			if strings.TrimSpace(*p.Title) == "" {
				return models.Errf(models.KindInvalidArgument, "title must not be empty")
			}
			next.Title = *p.Title
		}
		if p.Details != nil {
			next.Details = *p.Details
		}
		if p.Status != nil {
			next.Status = *p.Status
		}
		if p.Priority != nil {
			next.Priority = *p.Priority
		}
		if p.ProgressPercent != nil {
			next.ProgressPercent = *p.ProgressPercent
		}
		if p.AssigneeID != nil {
			next.AssigneeID = *p.AssigneeID
		}
		if p.Refs != nil {
			next.Refs = p.Refs
		}
		if p.ProjectRefs != nil {
			next.ProjectRefs = p.ProjectRefs
		}
		if p.StartDate != nil {
			next.StartDate = p.StartDate
		}
		if p.DueDate != nil {
			next.DueDate = p.DueDate
		}
		if next.Status == models.TaskStatusDone {
			next.ProgressPercent = 100
		}
		if err := validateTaskDates(next.StartDate, next.DueDate); err != nil {
			return err
		}

		now := nowMicros()
		res, execErr := tx.Exec(`
			UPDATE tasks
			SET title = ?, details = ?, status = ?, priority = ?, progress_percent = ?,
			    assignee_id = ?, refs = ?, project_refs = ?, start_date = ?, due_date = ?,
			    version = version + 1, updated_at = ?
			WHERE id = ? AND tenant_id = ? AND version = ?
		`, next.Title, next.Details, string(next.Status), next.Priority, next.ProgressPercent,
			nullableText(next.AssigneeID), encodeStrings(next.Refs), encodeStrings(next.ProjectRefs),
			nullableMicros(next.StartDate), nullableMicros(next.DueDate), now,
			taskID, tenantID, cur.Version)
		if execErr != nil {
			return fmt.Errorf("failed to update task: %w", execErr)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return models.Errf(models.KindConflict, "task changed concurrently: %s", taskID)
		}

		if auditErr := appendAuditTx(tx, tenantID, actor, "update_task", taskID, AuditOutcomeOK, nil); auditErr != nil {
			return fmt.Errorf("failed to write audit row: %w", auditErr)
		}

		next.Version = cur.Version + 1
		next.UpdatedAt = microsToTime(now)
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetTask returns one task with both dependency directions populated.
func GetTask(q Querier, tenantID, taskID string) (*models.Task, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	t, err := taskByIDTx(q, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if err := loadTaskEdges(q, tenantID, t); err != nil {
		return nil, err
	}
	return t, nil
}

// TaskFilter narrows list_tasks. IncludeUnassigned widens an assignee filter
// to also admit tasks nobody owns yet.
type TaskFilter struct {
	Status            models.TaskStatus
	AssigneeID        string
	IncludeUnassigned bool
	ProjectRef        string
	Limit             int
}

// ListTasks returns tasks ordered by priority descending then recency, with
// dependency edges populated.
func ListTasks(q Querier, tenantID string, f TaskFilter) ([]*models.Task, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE tenant_id = ?`
	args := []any{tenantID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.AssigneeID != "" {
		if f.IncludeUnassigned {
			query += ` AND (assignee_id = ? OR assignee_id IS NULL)`
		} else {
			query += ` AND assignee_id = ?`
		}
		args = append(args, f.AssigneeID)
	}
	if f.ProjectRef != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(tasks.project_refs) WHERE json_each.value = ?)`
		args = append(args, f.ProjectRef)
	}
	query += ` ORDER BY priority DESC, updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, scanErr := scanTaskRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan task: %w", scanErr)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if err := loadTaskEdges(q, tenantID, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// DeleteTask removes a task and, via cascade, its dependency edges.
func DeleteTask(db *sql.DB, tenantID string, actor models.Actor, taskID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM tasks WHERE id = ? AND tenant_id = ?`, taskID, tenantID)
		if err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return models.Errf(models.KindNotFound, "task not found: %s", taskID)
		}
		return appendAuditTx(tx, tenantID, actor, "delete_task", taskID, AuditOutcomeOK, nil)
	})
}

// projectRecentTaskLimit bounds the recent-task list in a project summary.
const projectRecentTaskLimit = 5

// ProjectSummary aggregates a project's task state and active decisions.
// BlockingTasks holds the project's dependency hot spots: tasks that are
// blocked, or that something else waits on. RecentTasks is the latest
// activity, most recently updated first.
type ProjectSummary struct {
	ProjectID       string                    `json:"project_id"`
	TaskCounts      map[models.TaskStatus]int `json:"task_counts"`
	OpenTasks       int                       `json:"open_tasks"`
	DoneTasks       int                       `json:"done_tasks"`
	ActiveDecisions int                       `json:"active_decisions"`
	BlockingTasks   []*models.Task            `json:"blocking_tasks"`
	RecentTasks     []*models.Task            `json:"recent_tasks"`
	LastActivity    *time.Time                `json:"last_activity,omitempty"`
}

// GetProjectSummary reports task counts by status, the blocking and recent
// task lists, and the count of active decisions for one project.
func GetProjectSummary(q Querier, tenantID, projectID string) (*ProjectSummary, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if projectID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "project id is required")
	}

	summary := &ProjectSummary{
		ProjectID:  projectID,
		TaskCounts: map[models.TaskStatus]int{},
	}

	rows, err := q.Query(`
		SELECT status, COUNT(*), MAX(updated_at)
		FROM tasks
		WHERE tenant_id = ?
		  AND EXISTS (SELECT 1 FROM json_each(tasks.project_refs) WHERE json_each.value = ?)
		GROUP BY status
	`, tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate project tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lastActivity int64
	for rows.Next() {
		var (
			status    string
			count     int
			updatedAt int64
		)
		if scanErr := rows.Scan(&status, &count, &updatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan project aggregate: %w", scanErr)
		}
		st := models.TaskStatus(status)
		summary.TaskCounts[st] = count
		if st.IsTerminal() {
			summary.DoneTasks += count
		} else {
			summary.OpenTasks += count
		}
		if updatedAt > lastActivity {
			lastActivity = updatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if lastActivity > 0 {
		t := microsToTime(lastActivity)
		summary.LastActivity = &t
	}

	summary.BlockingTasks, err = projectTasks(q, tenantID, projectID, `
		  AND (status = ?
		       OR EXISTS (SELECT 1 FROM task_blockers b
		                  WHERE b.tenant_id = tasks.tenant_id AND b.blocked_by_task_id = tasks.id))
		ORDER BY priority DESC, updated_at DESC
	`, string(models.TaskStatusBlocked))
	if err != nil {
		return nil, err
	}

	summary.RecentTasks, err = projectTasks(q, tenantID, projectID, `
		ORDER BY updated_at DESC LIMIT ?
	`, projectRecentTaskLimit)
	if err != nil {
		return nil, err
	}

	err = q.QueryRow(`
		SELECT COUNT(*) FROM decisions
		WHERE tenant_id = ? AND status = ? AND project_id = ?
	`, tenantID, string(models.DecisionActive), projectID).Scan(&summary.ActiveDecisions)
	if err != nil {
		return nil, fmt.Errorf("failed to count project decisions: %w", err)
	}
	return summary, nil
}

// projectTasks loads a project's tasks under an extra filter/order clause,
// with dependency edges populated.
func projectTasks(q Querier, tenantID, projectID, clause string, extra ...any) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE tenant_id = ?
		  AND EXISTS (SELECT 1 FROM json_each(tasks.project_refs) WHERE json_each.value = ?)
	` + clause
	args := append([]any{tenantID, projectID}, extra...)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query project tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, scanErr := scanTaskRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan project task: %w", scanErr)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if err := loadTaskEdges(q, tenantID, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func taskByIDTx(q Querier, tenantID, taskID string) (*models.Task, error) {
	row := q.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND tenant_id = ?`, taskID, tenantID)
	t, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

func scanTaskRow(row rowScanner) (*models.Task, error) {
	var (
		t           models.Task
		ts          int64
		status      string
		assigneeID  sql.NullString
		refs        string
		projectRefs string
		startDate   sql.NullInt64
		dueDate     sql.NullInt64
		updatedAt   int64
	)
	err := row.Scan(&t.ID, &t.TenantID, &ts, &t.Title, &t.Details, &status, &t.Priority,
		&t.ProgressPercent, &assigneeID, &refs, &projectRefs, &startDate, &dueDate,
		&t.Version, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Ts = microsToTime(ts)
	t.Status = models.TaskStatus(status)
	t.AssigneeID = scanNullString(assigneeID)
	t.Refs = decodeStrings(refs)
	t.ProjectRefs = decodeStrings(projectRefs)
	t.StartDate = scanNullTimeMicros(startDate)
	t.DueDate = scanNullTimeMicros(dueDate)
	t.UpdatedAt = microsToTime(updatedAt)
	return &t, nil
}
