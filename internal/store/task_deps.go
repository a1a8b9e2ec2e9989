package store

import (
	"database/sql"
	"fmt"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// maxDependencyDepth bounds the BFS when checking for cycles. A chain this
// deep is almost certainly a modeling error anyway.
const maxDependencyDepth = 10

// AddTaskBlocker records that task waits on blocker. Self-dependencies and
// edges that would close a cycle are rejected.
func AddTaskBlocker(db *sql.DB, tenantID string, actor models.Actor, taskID, blockerID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return Transact(db, func(tx *sql.Tx) error {
		if err := addBlockerTx(tx, tenantID, taskID, blockerID); err != nil {
			return err
		}
		return appendAuditTx(tx, tenantID, actor, "add_task_blocker", taskID, AuditOutcomeOK,
			map[string]string{"blocked_by": blockerID})
	})
}

// RemoveTaskBlocker deletes the edge; removing a missing edge is a no-op.
func RemoveTaskBlocker(db *sql.DB, tenantID string, actor models.Actor, taskID, blockerID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return Transact(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			DELETE FROM task_blockers WHERE tenant_id = ? AND task_id = ? AND blocked_by_task_id = ?
		`, tenantID, taskID, blockerID)
		if err != nil {
			return fmt.Errorf("failed to remove blocker: %w", err)
		}
		return appendAuditTx(tx, tenantID, actor, "remove_task_blocker", taskID, AuditOutcomeOK,
			map[string]string{"blocked_by": blockerID})
	})
}

func addBlockerTx(tx *sql.Tx, tenantID, taskID, blockerID string) error {
	if taskID == blockerID {
		return models.Errf(models.KindInvalidArgument, "task cannot block itself: %s", taskID)
	}
	if _, err := taskByIDTx(tx, tenantID, taskID); err != nil {
		return err
	}
	if _, err := taskByIDTx(tx, tenantID, blockerID); err != nil {
		return err
	}

	cyclic, err := wouldCreateCycle(tx, tenantID, taskID, blockerID)
	if err != nil {
		return err
	}
	if cyclic {
		return models.Errf(models.KindInvalidArgument,
			"dependency cycle: %s already depends on %s", blockerID, taskID)
	}

	_, err = tx.Exec(`
		INSERT INTO task_blockers (tenant_id, task_id, blocked_by_task_id, created_at)
		VALUES (?, ?, ?, ?)
	`, tenantID, taskID, blockerID, nowMicros())
	if err != nil {
		if IsUniqueConstraintErr(err) {
			return nil // edge already present
		}
		return fmt.Errorf("failed to insert blocker: %w", err)
	}
	return nil
}

// wouldCreateCycle checks whether blockerID transitively depends on taskID
// via a breadth-first walk over blocked_by edges.
func wouldCreateCycle(q Querier, tenantID, taskID, blockerID string) (bool, error) {
	visited := map[string]bool{blockerID: true}
	frontier := []string{blockerID}

	for depth := 0; len(frontier) > 0 && depth < maxDependencyDepth; depth++ {
		var next []string
		for _, id := range frontier {
			deps, err := blockedByIDs(q, tenantID, id)
			if err != nil {
				return false, err
			}
			for _, dep := range deps {
				if dep == taskID {
					return true, nil
				}
				if !visited[dep] {
					visited[dep] = true
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}
	return false, nil
}

func blockedByIDs(q Querier, tenantID, taskID string) ([]string, error) {
	return queryStringColumn(q, `
		SELECT blocked_by_task_id FROM task_blockers
		WHERE tenant_id = ? AND task_id = ?
		ORDER BY created_at ASC
	`, tenantID, taskID)
}

func blockingIDs(q Querier, tenantID, taskID string) ([]string, error) {
	return queryStringColumn(q, `
		SELECT task_id FROM task_blockers
		WHERE tenant_id = ? AND blocked_by_task_id = ?
		ORDER BY created_at ASC
	`, tenantID, taskID)
}

// loadTaskEdges populates both dependency directions on a task.
func loadTaskEdges(q Querier, tenantID string, t *models.Task) error {
	blockedBy, err := blockedByIDs(q, tenantID, t.ID)
	if err != nil {
		return fmt.Errorf("failed to load blocked_by for %s: %w", t.ID, err)
	}
	blocking, err := blockingIDs(q, tenantID, t.ID)
	if err != nil {
		return fmt.Errorf("failed to load blocking for %s: %w", t.ID, err)
	}
	t.BlockedBy = blockedBy
	t.Blocking = blocking
	return nil
}
