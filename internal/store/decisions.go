package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// DecisionInput carries the caller-supplied fields of record_decision.
type DecisionInput struct {
	Scope        models.ScopeKind
	Decision     string
	Rationale    []string
	Constraints  []string
	Alternatives []string
	Consequences []string
	Refs         []string
	SubjectType  string
	SubjectID    string
	ProjectID    string

	// SupersedesID, when set, names the active decision this one replaces.
	// The predecessor flips to superseded in the same transaction, guarded
	// by a compare-and-swap on its version.
	SupersedesID string
}

const decisionColumns = `id, tenant_id, ts, status, scope, decision, rationale, constraints,
       alternatives, consequences, refs, subject_type, subject_id, project_id, version`

// RecordDecision appends a ledger entry. When SupersedesID is set, the new
// decision references its predecessor and the predecessor's status flips to
// superseded atomically; a concurrent supersession of the same predecessor
// loses with a Conflict error.
func RecordDecision(db *sql.DB, tenantID string, actor models.Actor, in *DecisionInput) (*models.Decision, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Decision) == "" {
		return nil, models.Errf(models.KindInvalidArgument, "decision text is required")
	}
	if !in.Scope.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown scope: %q", in.Scope)
	}

	var result *models.Decision
	err := Transact(db, func(tx *sql.Tx) error {
		refs := in.Refs
		if in.SupersedesID != "" {
			pred, predErr := decisionByIDTx(tx, tenantID, in.SupersedesID)
			if predErr != nil {
				return predErr
			}
			if pred.Status != models.DecisionActive {
				return models.Errf(models.KindConflict, "decision already superseded: %s", in.SupersedesID)
			}

			res, casErr := tx.Exec(`
				UPDATE decisions SET status = ?, version = version + 1
				WHERE id = ? AND tenant_id = ? AND status = ? AND version = ?
			`, string(models.DecisionSuperseded), pred.ID, tenantID, string(models.DecisionActive), pred.Version)
			if casErr != nil {
				return fmt.Errorf("failed to supersede decision: %w", casErr)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return models.Errf(models.KindConflict, "decision changed concurrently: %s", in.SupersedesID)
			}

			if !containsString(refs, in.SupersedesID) {
				refs = append(append([]string(nil), refs...), in.SupersedesID)
			}
		}

		id := generatePrefixedID(idPrefixDecision)
		ts := nowMicros()
		_, execErr := tx.Exec(`
			INSERT INTO decisions (id, tenant_id, ts, status, scope, decision, rationale, constraints,
			                       alternatives, consequences, refs, subject_type, subject_id, project_id, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`, id, tenantID, ts, string(models.DecisionActive), string(in.Scope), in.Decision,
			encodeStrings(in.Rationale), encodeStrings(in.Constraints), encodeStrings(in.Alternatives),
			encodeStrings(in.Consequences), encodeStrings(refs), nullableText(in.SubjectType),
			nullableText(in.SubjectID), nullableText(in.ProjectID))
		if execErr != nil {
			return fmt.Errorf("failed to insert decision: %w", execErr)
		}

		meta := map[string]string{"scope": string(in.Scope)}
		if in.SupersedesID != "" {
			meta["supersedes"] = in.SupersedesID
		}
		if auditErr := appendAuditTx(tx, tenantID, actor, "record_decision", id, AuditOutcomeOK, meta); auditErr != nil {
			return fmt.Errorf("failed to write audit row: %w", auditErr)
		}

		result = &models.Decision{
			ID:           id,
			TenantID:     tenantID,
			Ts:           microsToTime(ts),
			Status:       models.DecisionActive,
			Scope:        in.Scope,
			Decision:     in.Decision,
			Rationale:    in.Rationale,
			Constraints:  in.Constraints,
			Alternatives: in.Alternatives,
			Consequences: in.Consequences,
			Refs:         refs,
			SubjectType:  in.SubjectType,
			SubjectID:    in.SubjectID,
			ProjectID:    in.ProjectID,
			Version:      1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDecision returns one ledger entry by id, without effective-view
// projection (the ledger itself is always readable).
func GetDecision(q Querier, tenantID, decisionID string) (*models.Decision, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return decisionByIDTx(q, tenantID, decisionID)
}

func decisionByIDTx(q Querier, tenantID, decisionID string) (*models.Decision, error) {
	row := q.QueryRow(`SELECT `+decisionColumns+` FROM decisions WHERE id = ? AND tenant_id = ?`,
		decisionID, tenantID)
	d, err := scanDecisionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "decision not found: %s", decisionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query decision: %w", err)
	}
	return d, nil
}

// ActiveDecisionsFilter narrows get_active_decisions.
type ActiveDecisionsFilter struct {
	SubjectType string
	SubjectID   string
	ProjectID   string
	Limit       int
}

// ActiveDecisions returns the effective active decisions for a subject,
// ordered by scope precedence (policy first) then recency. Superseded and
// retracted decisions never appear.
func ActiveDecisions(q Querier, tenantID string, f ActiveDecisionsFilter, opts ReadOptions) ([]*EffectiveDecision, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE tenant_id = ? AND status = ?`
	args := []any{tenantID, string(models.DecisionActive)}
	if f.SubjectType != "" {
		query += ` AND subject_type = ?`
		args = append(args, f.SubjectType)
	}
	if f.SubjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, f.SubjectID)
	}
	if f.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	query += ` ORDER BY ts DESC`

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var base []models.Decision
	for rows.Next() {
		d, scanErr := scanDecisionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", scanErr)
		}
		base = append(base, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	effective, err := effectiveDecisions(q, tenantID, base, opts)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(effective, func(i, j int) bool {
		pi, pj := effective[i].Scope.Precedence(), effective[j].Scope.Precedence()
		if pi != pj {
			return pi > pj
		}
		return effective[i].Ts.After(effective[j].Ts)
	})

	if len(effective) > limit {
		effective = effective[:limit]
	}
	return effective, nil
}

// DecisionChain walks the supersession chain backwards from a decision,
// following predecessor refs, newest first. Cycles cannot occur because a
// successor is always created after its predecessor, but the walk is still
// bounded.
func DecisionChain(q Querier, tenantID, decisionID string, maxDepth int) ([]*models.Decision, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = 32
	}

	var chain []*models.Decision
	seen := map[string]bool{}
	id := decisionID
	for depth := 0; id != "" && depth < maxDepth && !seen[id]; depth++ {
		seen[id] = true
		d, err := decisionByIDTx(q, tenantID, id)
		if err != nil {
			if depth == 0 {
				return nil, err
			}
			break // dangling ref deep in the chain; return what we have
		}
		chain = append(chain, d)

		id = ""
		for _, ref := range d.Refs {
			if strings.HasPrefix(ref, idPrefixDecision+"_") {
				id = ref
				break
			}
		}
	}
	return chain, nil
}

func containsString(vals []string, want string) bool {
	for _, v := range vals {
		if v == want {
			return true
		}
	}
	return false
}

func scanDecisionRow(row rowScanner) (*models.Decision, error) {
	var (
		d            models.Decision
		ts           int64
		status       string
		scope        string
		rationale    string
		constraints  string
		alternatives string
		consequences string
		refs         string
		subjectType  sql.NullString
		subjectID    sql.NullString
		projectID    sql.NullString
	)
	err := row.Scan(&d.ID, &d.TenantID, &ts, &status, &scope, &d.Decision, &rationale, &constraints,
		&alternatives, &consequences, &refs, &subjectType, &subjectID, &projectID, &d.Version)
	if err != nil {
		return nil, err
	}

	d.Ts = microsToTime(ts)
	d.Status = models.DecisionStatus(status)
	d.Scope = models.ScopeKind(scope)
	d.Rationale = decodeStrings(rationale)
	d.Constraints = decodeStrings(constraints)
	d.Alternatives = decodeStrings(alternatives)
	d.Consequences = decodeStrings(consequences)
	d.Refs = decodeStrings(refs)
	d.SubjectType = scanNullString(subjectType)
	d.SubjectID = scanNullString(subjectID)
	d.ProjectID = scanNullString(projectID)
	return &d, nil
}
