package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

const taskDateLayout = "2006-01-02"

func NewTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Tasks with dependencies and optimistic concurrency",
	}

	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskUpdateCmd())
	cmd.AddCommand(newTaskGetCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskDeleteCmd())
	cmd.AddCommand(newTaskBlockCmd())
	cmd.AddCommand(newTaskUnblockCmd())
	cmd.AddCommand(newTaskProjectSummaryCmd())
	return cmd
}

func parseTaskDate(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(taskDateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
	}
	return &t, nil
}

func newTaskCreateCmd() *cobra.Command {
	var (
		title       string
		details     string
		status      string
		priority    int
		assignee    string
		refs        []string
		blockedBy   []string
		projectRefs []string
		startDate   string
		dueDate     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task, optionally with blocker edges",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}
			if title == "" {
				return cmdErr(fmt.Errorf("--title is required"))
			}
			start, err := parseTaskDate("start-date", startDate)
			if err != nil {
				return cmdErr(err)
			}
			due, err := parseTaskDate("due-date", dueDate)
			if err != nil {
				return cmdErr(err)
			}

			in := &store.TaskInput{
				Title:       title,
				Details:     details,
				Status:      models.TaskStatus(status),
				Priority:    priority,
				AssigneeID:  assignee,
				Refs:        refs,
				BlockedBy:   blockedBy,
				ProjectRefs: projectRefs,
				StartDate:   start,
				DueDate:     due,
			}

			var t *models.Task
			if err := withDB(func(db *DB) error {
				res, createErr := actions.CreateTask(db, tenant, actor, in)
				if createErr != nil {
					return createErr
				}
				t = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(t)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Task title (required)")
	cmd.Flags().StringVar(&details, "details", "", "Free-form details")
	cmd.Flags().StringVar(&status, "status", "open", "Status: backlog|open|doing|review|blocked|done")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority (higher sorts first)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Assignee agent id")
	cmd.Flags().StringSliceVar(&refs, "ref", nil, "Referenced id (repeatable)")
	cmd.Flags().StringSliceVar(&blockedBy, "blocked-by", nil, "Blocking task id (repeatable)")
	cmd.Flags().StringSliceVar(&projectRefs, "project-ref", nil, "Project id (repeatable)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dueDate, "due-date", "", "Due date (YYYY-MM-DD)")

	return cmd
}

func newTaskUpdateCmd() *cobra.Command {
	var (
		expectedVersion int
		title           string
		details         string
		status          string
		priority        int
		progress        int
		assignee        string
		refs            []string
		projectRefs     []string
		startDate       string
		dueDate         string
	)

	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Apply a partial update; --expect-version guards against races",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}

			// Only flags the caller set become part of the patch.
			p := &store.TaskPatch{}
			if cmd.Flags().Changed("title") {
				p.Title = &title
			}
			if cmd.Flags().Changed("details") {
				p.Details = &details
			}
			if cmd.Flags().Changed("status") {
				s := models.TaskStatus(status)
				p.Status = &s
			}
			if cmd.Flags().Changed("priority") {
				p.Priority = &priority
			}
			if cmd.Flags().Changed("progress") {
				p.ProgressPercent = &progress
			}
			if cmd.Flags().Changed("assignee") {
				p.AssigneeID = &assignee
			}
			if cmd.Flags().Changed("ref") {
				p.Refs = refs
			}
			if cmd.Flags().Changed("project-ref") {
				p.ProjectRefs = projectRefs
			}
			if cmd.Flags().Changed("start-date") {
				start, parseErr := parseTaskDate("start-date", startDate)
				if parseErr != nil {
					return cmdErr(parseErr)
				}
				p.StartDate = start
			}
			if cmd.Flags().Changed("due-date") {
				due, parseErr := parseTaskDate("due-date", dueDate)
				if parseErr != nil {
					return cmdErr(parseErr)
				}
				p.DueDate = due
			}

			var t *models.Task
			if err := withDB(func(db *DB) error {
				res, updErr := actions.UpdateTask(db, tenant, actor, args[0], expectedVersion, p)
				if updErr != nil {
					return updErr
				}
				t = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(t)
		},
	}

	cmd.Flags().IntVar(&expectedVersion, "expect-version", 0, "Expected current version (0 skips the check)")
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&details, "details", "", "New details")
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().IntVar(&priority, "priority", 0, "New priority")
	cmd.Flags().IntVar(&progress, "progress", 0, "Progress percent (0-100)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "New assignee")
	cmd.Flags().StringSliceVar(&refs, "ref", nil, "Replace refs (repeatable)")
	cmd.Flags().StringSliceVar(&projectRefs, "project-ref", nil, "Replace project refs (repeatable)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "New start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dueDate, "due-date", "", "New due date (YYYY-MM-DD)")

	return cmd
}

func newTaskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Fetch one task with both dependency directions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var t *models.Task
			if err := withDB(func(db *DB) error {
				res, getErr := actions.GetTask(db, tenant, args[0])
				if getErr != nil {
					return getErr
				}
				t = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(t)
		},
	}
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		status     string
		assignee   string
		projectRef string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by priority then recency",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			f := store.TaskFilter{
				Status:     models.TaskStatus(status),
				AssigneeID: assignee,
				ProjectRef: projectRef,
				Limit:      limit,
			}

			var tasks []*models.Task
			if err := withDB(func(db *DB) error {
				ts, listErr := actions.ListTasks(db, tenant, f)
				if listErr != nil {
					return listErr
				}
				tasks = ts
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Count int            `json:"count"`
				Tasks []*models.Task `json:"tasks"`
			}
			return output.PrintSuccess(resp{Count: len(tasks), Tasks: tasks})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Assignee filter")
	cmd.Flags().StringVar(&projectRef, "project", "", "Project ref filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max tasks (default 100)")

	return cmd
}

func newTaskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its dependency edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}

			if err := withDB(func(db *DB) error {
				return actions.DeleteTask(db, tenant, actor, args[0])
			}); err != nil {
				return err
			}

			type resp struct {
				TaskID  string `json:"task_id"`
				Deleted bool   `json:"deleted"`
			}
			return output.PrintSuccess(resp{TaskID: args[0], Deleted: true})
		},
	}
	return cmd
}

func newTaskBlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block <task-id> <blocker-id>",
		Short: "Record that a task is blocked by another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}

			if err := withDB(func(db *DB) error {
				return actions.AddTaskBlocker(db, tenant, actor, args[0], args[1])
			}); err != nil {
				return err
			}

			type resp struct {
				TaskID    string `json:"task_id"`
				BlockedBy string `json:"blocked_by"`
			}
			return output.PrintSuccess(resp{TaskID: args[0], BlockedBy: args[1]})
		},
	}
	return cmd
}

func newTaskUnblockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unblock <task-id> <blocker-id>",
		Short: "Remove a blocker edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}

			if err := withDB(func(db *DB) error {
				return actions.RemoveTaskBlocker(db, tenant, actor, args[0], args[1])
			}); err != nil {
				return err
			}

			type resp struct {
				TaskID  string `json:"task_id"`
				Removed string `json:"removed_blocker"`
			}
			return output.PrintSuccess(resp{TaskID: args[0], Removed: args[1]})
		},
	}
	return cmd
}

func newTaskProjectSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project-summary <project-id>",
		Short: "Aggregate a project's task counts and active decisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var summary *store.ProjectSummary
			if err := withDB(func(db *DB) error {
				s, sumErr := actions.GetProjectSummary(db, tenant, args[0])
				if sumErr != nil {
					return sumErr
				}
				summary = s
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(summary)
		},
	}
	return cmd
}
