package actions

import (
	"database/sql"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// GetChunks returns the effective form of the requested chunks.
func GetChunks(db *sql.DB, tenantID string, chunkIDs []string, channel models.Channel, includeQuarantined bool) ([]*models.EffectiveChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, models.Errf(models.KindInvalidArgument, "at least one chunk id is required")
	}
	if channel != "" && !channel.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown channel: %q", channel)
	}
	return store.GetEffectiveChunks(db, tenantID, chunkIDs, store.ReadOptions{
		Channel:            channel,
		IncludeQuarantined: includeQuarantined,
	})
}

// SearchChunks runs ranked retrieval with the configured pool and half-life.
func SearchChunks(db *sql.DB, tenantID string, sq store.SearchQuery, channel models.Channel, includeQuarantined bool) ([]store.SearchResult, error) {
	if channel != "" && !channel.Valid() {
		return nil, models.Errf(models.KindInvalidArgument, "unknown channel: %q", channel)
	}
	cfg := app.EffectiveConfig()
	if sq.CandidatePool == 0 {
		sq.CandidatePool = cfg.MaxCandidatePool
	}
	if sq.HalfLifeSeconds == 0 {
		sq.HalfLifeSeconds = cfg.RecencyHalfLifeSeconds
	}
	return store.SearchChunks(db, tenantID, sq, store.ReadOptions{
		Channel:            channel,
		IncludeQuarantined: includeQuarantined,
	})
}

// GetTimeline returns a chunk's session neighbors within a time window.
func GetTimeline(db *sql.DB, tenantID, chunkID string, windowSeconds int64, channel models.Channel, includeQuarantined bool) ([]store.TimelineEntry, error) {
	if chunkID == "" {
		return nil, models.Errf(models.KindInvalidArgument, "chunk id is required")
	}
	return store.Timeline(db, tenantID, chunkID, windowSeconds, store.ReadOptions{
		Channel:            channel,
		IncludeQuarantined: includeQuarantined,
	})
}
