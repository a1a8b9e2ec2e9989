package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// requireTenant guards every store primitive: a tenant-less call is a
// programming error in the caller, surfaced as InvalidArgument.
func requireTenant(tenantID string) error {
	if tenantID == "" {
		return models.Errf(models.KindInvalidArgument, "tenant id is required")
	}
	return nil
}

// nowMicros returns the server-assigned microsecond timestamp for new rows.
func nowMicros() int64 {
	return time.Now().UnixMicro()
}

// microsToTime converts a stored microsecond timestamp back to time.Time.
func microsToTime(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// encodeStrings serializes a string slice as a JSON array ("[]" when empty).
func encodeStrings(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeStrings deserializes a JSON array column into a string slice.
func decodeStrings(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// scanNullString converts sql.NullString to string (empty if NULL).
func scanNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanNullTimeMicros converts a nullable microsecond column to *time.Time.
func scanNullTimeMicros(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := microsToTime(ni.Int64)
	return &t
}

// nullableText maps "" to NULL for optional text columns.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableMicros maps nil to NULL for optional timestamp columns.
func nullableMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}
