package store

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// Content hashes are lowercase hex sha256.
var contentHashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// RegisterArtifact records a content-addressed blob reference. Registering
// the same hash twice returns the existing row.
func RegisterArtifact(db *sql.DB, tenantID string, actor models.Actor, contentHash, contentType string, sizeBytes int64) (*models.Artifact, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if !contentHashRe.MatchString(contentHash) {
		return nil, models.Errf(models.KindInvalidArgument, "content_hash must be lowercase hex sha256")
	}
	if sizeBytes < 0 {
		return nil, models.Errf(models.KindInvalidArgument, "size_bytes must not be negative")
	}

	var result *models.Artifact
	err := Transact(db, func(tx *sql.Tx) error {
		existing, lookupErr := artifactByHashTx(tx, tenantID, contentHash)
		if lookupErr == nil {
			result = existing
			return nil
		}
		if !models.IsKind(lookupErr, models.KindNotFound) {
			return lookupErr
		}

		id := generatePrefixedID(idPrefixArtifact)
		ts := nowMicros()
		_, execErr := tx.Exec(`
			INSERT INTO artifacts (id, tenant_id, ts, content_hash, content_type, size_bytes)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, tenantID, ts, contentHash, nullableText(contentType), sizeBytes)
		if execErr != nil {
			return fmt.Errorf("failed to insert artifact: %w", execErr)
		}

		if auditErr := appendAuditTx(tx, tenantID, actor, "register_artifact", id, AuditOutcomeOK, nil); auditErr != nil {
			return fmt.Errorf("failed to write audit row: %w", auditErr)
		}

		result = &models.Artifact{
			ID:          id,
			TenantID:    tenantID,
			Ts:          microsToTime(ts),
			ContentHash: contentHash,
			ContentType: contentType,
			SizeBytes:   sizeBytes,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetArtifact returns one artifact by id, tenant-checked.
func GetArtifact(q Querier, tenantID, artifactID string) (*models.Artifact, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	row := q.QueryRow(`
		SELECT id, tenant_id, ts, content_hash, content_type, size_bytes
		FROM artifacts WHERE id = ? AND tenant_id = ?
	`, artifactID, tenantID)
	a, err := scanArtifactRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "artifact not found: %s", artifactID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact: %w", err)
	}
	return a, nil
}

func artifactByHashTx(q Querier, tenantID, contentHash string) (*models.Artifact, error) {
	row := q.QueryRow(`
		SELECT id, tenant_id, ts, content_hash, content_type, size_bytes
		FROM artifacts WHERE tenant_id = ? AND content_hash = ?
		ORDER BY ts ASC LIMIT 1
	`, tenantID, contentHash)
	a, err := scanArtifactRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errf(models.KindNotFound, "artifact not found by hash")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact by hash: %w", err)
	}
	return a, nil
}

func scanArtifactRow(row rowScanner) (*models.Artifact, error) {
	var (
		a           models.Artifact
		ts          int64
		contentType sql.NullString
	)
	if err := row.Scan(&a.ID, &a.TenantID, &ts, &a.ContentHash, &contentType, &a.SizeBytes); err != nil {
		return nil, err
	}
	a.Ts = microsToTime(ts)
	a.ContentType = scanNullString(contentType)
	return &a, nil
}
