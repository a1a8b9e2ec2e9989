package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

// resolveTenant returns the tenant id from --tenant or MEMD_TENANT.
func resolveTenant(cmd *cobra.Command) string {
	if tenant, err := cmd.Flags().GetString("tenant"); err == nil && tenant != "" {
		return tenant
	}
	return os.Getenv("MEMD_TENANT")
}

// requireTenant is resolveTenant with a hard failure: authentication
// middleware is out of scope, so the verified tenant arrives via flag or env.
func requireTenant(cmd *cobra.Command) (string, error) {
	tenant := resolveTenant(cmd)
	if tenant == "" {
		return "", fmt.Errorf("tenant is required (set --tenant or MEMD_TENANT)")
	}
	return tenant, nil
}

// resolveActor returns the calling actor from --agent/--actor-type or
// MEMD_AGENT. Actor type defaults to agent.
func resolveActor(cmd *cobra.Command) models.Actor {
	actor := models.Actor{Type: models.ActorAgent}
	if id, err := cmd.Flags().GetString("agent"); err == nil && id != "" {
		actor.ID = id
	}
	if actor.ID == "" {
		actor.ID = os.Getenv("MEMD_AGENT")
	}
	if t, err := cmd.Flags().GetString("actor-type"); err == nil && t != "" {
		actor.Type = models.ActorType(t)
	}
	return actor
}

// requireActor is resolveActor with a hard failure on missing id.
func requireActor(cmd *cobra.Command) (models.Actor, error) {
	actor := resolveActor(cmd)
	if actor.ID == "" {
		return models.Actor{}, fmt.Errorf("agent is required (set --agent or MEMD_AGENT)")
	}
	if !actor.Type.Valid() {
		return models.Actor{}, fmt.Errorf("unknown actor type: %q", actor.Type)
	}
	return actor, nil
}
