package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

const testTenant = "tenant-a"

var testActor = models.Actor{Type: models.ActorAgent, ID: "agent-1"}

// setupTestDB creates a migrated database under t.TempDir with cleanup
// registered via t.Cleanup.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDBWithPath(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// recordTestMessage records one message event and returns its result. The
// text lands verbatim in a single chunk for short inputs.
func recordTestMessage(t *testing.T, db *sql.DB, session, text string, tags ...string) *RecordResult {
	t.Helper()

	content, err := json.Marshal(map[string]string{"text": text})
	require.NoError(t, err)

	res, err := RecordEvent(db, testTenant, &EventInput{
		SessionID: session,
		Channel:   models.ChannelPrivate,
		Actor:     testActor,
		Kind:      models.EventKindMessage,
		Tags:      tags,
		Content:   content,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ChunkIDs)
	return res
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func testHash(n int) string {
	return fmt.Sprintf("%064x", n)
}
