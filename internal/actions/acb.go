package actions

import (
	"context"
	"database/sql"

	"github.com/callin2/agent-memory-sub006/internal/acb"
	"github.com/callin2/agent-memory-sub006/internal/app"
)

// BuildACB assembles an active context bundle for one prompt.
func BuildACB(ctx context.Context, db *sql.DB, tenantID string, req acb.Request) (*acb.Bundle, error) {
	cfg := app.EffectiveConfig()
	return acb.Build(ctx, db, cfg, tenantID, req)
}
