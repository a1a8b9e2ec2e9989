package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

const capsuleColumns = `id, tenant_id, ts, scope, subject_type, subject_id, project_id,
       author_agent_id, audience, items, risks, ttl_days, status, expires_at`

// CapsuleInput carries the caller-supplied fields of create_capsule.
type CapsuleInput struct {
	Scope         models.ScopeKind
	SubjectType   string
	SubjectID     string
	ProjectID     string
	AuthorAgentID string
	Audience      []string
	Items         models.CapsuleItems
	Risks         []string
	TTLDays       int
}

// CreateCapsule validates that every referenced item exists in the same
// tenant, then persists the capsule with its expiry. TTL is clamped to the
// configured [min, max] day range.
func CreateCapsule(db *sql.DB, tenantID string, actor models.Actor, in *CapsuleInput, ttlMinDays, ttlMaxDays int) (*models.Capsule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if !in.Scope.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown scope: %q", in.Scope)
	}
	if in.SubjectType == "" || in.SubjectID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "subject_type and subject_id are required")
	}
	if in.AuthorAgentID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "author_agent_id is required")
	}
	if len(in.Audience) == 0 {
		return nil, models.Errf(models.KindInvalidArgument, "audience must not be empty")
	}
	if in.Items.IsEmpty() {
		return nil, models.Errf(models.KindInvalidArgument, "capsule items must not be empty")
	}
	if ttlMinDays <= 0 {
		ttlMinDays = 1
	}
	if ttlMaxDays < ttlMinDays {
		ttlMaxDays = ttlMinDays
	}
	ttl := in.TTLDays
	if ttl < ttlMinDays {
		ttl = ttlMinDays
	}
	if ttl > ttlMaxDays {
		ttl = ttlMaxDays
	}

	var result *models.Capsule
	err := Transact(db, func(tx *sql.Tx) error {
		if err := validateCapsuleItemsTx(tx, tenantID, in.Items); err != nil {
			return err
		}

		id := generatePrefixedID(idPrefixCapsule)
		ts := nowMicros()
		expiresAt := microsToTime(ts).Add(time.Duration(ttl) * 24 * time.Hour)

		itemsJSON, err := json.Marshal(in.Items)
		if err != nil {
			return fmt.Errorf("failed to encode capsule items: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO capsules (id, tenant_id, ts, scope, subject_type, subject_id, project_id,
			                      author_agent_id, audience, items, risks, ttl_days, status, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, tenantID, ts, string(in.Scope), in.SubjectType, in.SubjectID, nullableText(in.ProjectID),
			in.AuthorAgentID, encodeStrings(in.Audience), string(itemsJSON), encodeStrings(in.Risks),
			ttl, string(models.CapsuleActive), expiresAt.UnixMicro())
		if err != nil {
			return fmt.Errorf("failed to insert capsule: %w", err)
		}

		if auditErr := appendAuditTx(tx, tenantID, actor, "create_capsule", id, AuditOutcomeOK, map[string]string{
			"subject": in.SubjectType + ":" + in.SubjectID,
		}); auditErr != nil {
			return fmt.Errorf("failed to write audit row: %w", auditErr)
		}

		result = &models.Capsule{
			ID:            id,
			TenantID:      tenantID,
			Ts:            microsToTime(ts),
			Scope:         in.Scope,
			SubjectType:   in.SubjectType,
			SubjectID:     in.SubjectID,
			ProjectID:     in.ProjectID,
			AuthorAgentID: in.AuthorAgentID,
			Audience:      in.Audience,
			Items:         in.Items,
			Risks:         in.Risks,
			TTLDays:       ttl,
			Status:        models.CapsuleActive,
			ExpiresAt:     expiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validateCapsuleItemsTx rejects items that do not resolve within the tenant.
func validateCapsuleItemsTx(tx *sql.Tx, tenantID string, items models.CapsuleItems) error {
	check := func(table, id string) error {
		var one int
		err := tx.QueryRow(`SELECT 1 FROM `+table+` WHERE id = ? AND tenant_id = ?`, id, tenantID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Errf(models.KindIntegrity, "capsule item does not resolve: %s", id)
		}
		if err != nil {
			return fmt.Errorf("failed to validate capsule item %s: %w", id, err)
		}
		return nil
	}
	for _, id := range items.Chunks {
		if err := check("chunks", id); err != nil {
			return err
		}
	}
	for _, id := range items.Decisions {
		if err := check("decisions", id); err != nil {
			return err
		}
	}
	for _, id := range items.Artifacts {
		if err := check("artifacts", id); err != nil {
			return err
		}
	}
	return nil
}

// AvailableCapsules lists active, unexpired capsules whose audience includes
// the requesting agent, optionally narrowed by subject. Capsules outside the
// audience are simply absent; their existence is never disclosed.
func AvailableCapsules(q Querier, tenantID, agentID, subjectType, subjectID string) ([]*models.Capsule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if agentID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "agent id is required")
	}

	query := `
		SELECT ` + capsuleColumns + `
		FROM capsules
		WHERE tenant_id = ? AND status = ? AND expires_at > ?
		  AND EXISTS (SELECT 1 FROM json_each(capsules.audience) WHERE json_each.value = ?)
	`
	args := []any{tenantID, string(models.CapsuleActive), nowMicros(), agentID}
	if subjectType != "" {
		query += ` AND subject_type = ?`
		args = append(args, subjectType)
	}
	if subjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY ts DESC`

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list capsules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Capsule
	for rows.Next() {
		c, scanErr := scanCapsuleRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan capsule: %w", scanErr)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.ID
	}
	retracted, err := retractedCapsuleIDs(q, tenantID, ids)
	if err != nil {
		return nil, err
	}
	kept := out[:0]
	for _, c := range out {
		if !retracted[c.ID] {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// retractedCapsuleIDs returns the subset of ids carrying an approved retract
// edit. A retracted capsule is absent from every read, same as a revoked or
// expired one.
func retractedCapsuleIDs(q Querier, tenantID string, capsuleIDs []string) (map[string]bool, error) {
	editsByID, err := loadApprovedEdits(q, tenantID, models.EditTargetCapsule, capsuleIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for id, edits := range editsByID {
		for _, e := range edits {
			if e.op == models.EditOpRetract {
				out[id] = true
				break
			}
		}
	}
	return out, nil
}

// OpenedCapsule is a capsule expanded with its resolved contents.
type OpenedCapsule struct {
	Capsule   *models.Capsule          `json:"capsule"`
	Chunks    []*models.EffectiveChunk `json:"chunks,omitempty"`
	Decisions []*EffectiveDecision     `json:"decisions,omitempty"`
	Artifacts []*models.Artifact       `json:"artifacts,omitempty"`
}

// OpenCapsule returns the capsule with its items expanded, for an agent in
// the audience. An agent outside the audience gets the same NotFound as a
// caller naming a revoked, retracted, expired, or unknown capsule; the
// responses are indistinguishable.
//
// Curation overrides quarantine: a curated item that is merely quarantined
// still opens, but retracts and channel blocks hold. An approved retract of
// the capsule itself hides the whole capsule.
func OpenCapsule(q Querier, tenantID, capsuleID, agentID string, channel models.Channel) (*OpenedCapsule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	c, err := capsuleByID(q, tenantID, capsuleID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CapsuleActive || !c.ExpiresAt.After(time.Now()) || !c.InAudience(agentID) {
		return nil, models.Errf(models.KindNotFound, "capsule not found: %s", capsuleID)
	}
	retracted, err := retractedCapsuleIDs(q, tenantID, []string{c.ID})
	if err != nil {
		return nil, err
	}
	if retracted[c.ID] {
		return nil, models.Errf(models.KindNotFound, "capsule not found: %s", capsuleID)
	}

	opened := &OpenedCapsule{Capsule: c}
	opts := ReadOptions{Channel: channel, IncludeQuarantined: true}

	if len(c.Items.Chunks) > 0 {
		chunks, chErr := GetEffectiveChunks(q, tenantID, c.Items.Chunks, opts)
		if chErr != nil {
			return nil, chErr
		}
		opened.Chunks = chunks
	}
	if len(c.Items.Decisions) > 0 {
		base := make([]models.Decision, 0, len(c.Items.Decisions))
		for _, id := range c.Items.Decisions {
			d, dErr := decisionByIDTx(q, tenantID, id)
			if dErr != nil {
				if models.IsKind(dErr, models.KindNotFound) {
					continue
				}
				return nil, dErr
			}
			base = append(base, *d)
		}
		decisions, dErr := effectiveDecisions(q, tenantID, base, opts)
		if dErr != nil {
			return nil, dErr
		}
		opened.Decisions = decisions
	}
	if len(c.Items.Artifacts) > 0 {
		for _, id := range c.Items.Artifacts {
			a, aErr := GetArtifact(q, tenantID, id)
			if aErr != nil {
				if models.IsKind(aErr, models.KindNotFound) {
					continue
				}
				return nil, aErr
			}
			opened.Artifacts = append(opened.Artifacts, a)
		}
	}
	return opened, nil
}

// RevokeCapsule flips an active capsule to revoked. Only the author may
// revoke; anyone else observes NotFound, same as a non-audience reader.
func RevokeCapsule(db *sql.DB, tenantID string, actor models.Actor, capsuleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return Transact(db, func(tx *sql.Tx) error {
		c, err := capsuleByID(tx, tenantID, capsuleID)
		if err != nil {
			return err
		}
		if c.AuthorAgentID != actor.ID {
			return models.Errf(models.KindNotFound, "capsule not found: %s", capsuleID)
		}
		if c.Status != models.CapsuleActive {
			return models.Errf(models.KindConflict, "capsule is not active: %s", capsuleID)
		}

		_, err = tx.Exec(`UPDATE capsules SET status = ? WHERE id = ? AND tenant_id = ?`,
			string(models.CapsuleRevoked), capsuleID, tenantID)
		if err != nil {
			return fmt.Errorf("failed to revoke capsule: %w", err)
		}
		return appendAuditTx(tx, tenantID, actor, "revoke_capsule", capsuleID, AuditOutcomeOK, nil)
	})
}

// ExpireCapsules flips active capsules past their expiry to expired.
// Idempotent; run by the consolidation worker.
func ExpireCapsules(q Querier, nowMicrosTs int64) (int64, error) {
	res, err := q.Exec(`
		UPDATE capsules SET status = ? WHERE status = ? AND expires_at <= ?
	`, string(models.CapsuleExpired), string(models.CapsuleActive), nowMicrosTs)
	if err != nil {
		return 0, fmt.Errorf("failed to expire capsules: %w", err)
	}
	return res.RowsAffected()
}

func capsuleByID(q Querier, tenantID, capsuleID string) (*models.Capsule, error) {
	row := q.QueryRow(`SELECT `+capsuleColumns+` FROM capsules WHERE id = ? AND tenant_id = ?`,
		capsuleID, tenantID)
	c, err := scanCapsuleRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "capsule not found: %s", capsuleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query capsule: %w", err)
	}
	return c, nil
}

func scanCapsuleRow(row rowScanner) (*models.Capsule, error) {
	var (
		c         models.Capsule
		ts        int64
		scope     string
		projectID sql.NullString
		audience  string
		items     string
		risks     string
		status    string
		expiresAt int64
	)
	err := row.Scan(&c.ID, &c.TenantID, &ts, &scope, &c.SubjectType, &c.SubjectID, &projectID,
		&c.AuthorAgentID, &audience, &items, &risks, &c.TTLDays, &status, &expiresAt)
	if err != nil {
		return nil, err
	}

	c.Ts = microsToTime(ts)
	c.Scope = models.ScopeKind(scope)
	c.ProjectID = scanNullString(projectID)
	c.Audience = decodeStrings(audience)
	if items != "" {
		_ = json.Unmarshal([]byte(items), &c.Items)
	}
	c.Risks = decodeStrings(risks)
	c.Status = models.CapsuleStatus(status)
	c.ExpiresAt = microsToTime(expiresAt)
	return &c, nil
}
