package commands

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/models"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("tenant", "", "")
	cmd.Flags().String("agent", "", "")
	cmd.Flags().String("actor-type", "", "")
	return cmd
}

func TestResolveTenant_FlagBeatsEnv(t *testing.T) {
	t.Setenv("MEMD_TENANT", "env-tenant")

	cmd := newIdentityCmd()
	assert.Equal(t, "env-tenant", resolveTenant(cmd))

	require.NoError(t, cmd.Flags().Set("tenant", "flag-tenant"))
	assert.Equal(t, "flag-tenant", resolveTenant(cmd))
}

func TestRequireTenant_MissingFails(t *testing.T) {
	t.Setenv("MEMD_TENANT", "")

	_, err := requireTenant(newIdentityCmd())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMD_TENANT")
}

func TestResolveActor_Defaults(t *testing.T) {
	t.Setenv("MEMD_AGENT", "env-agent")

	actor := resolveActor(newIdentityCmd())
	assert.Equal(t, models.ActorAgent, actor.Type)
	assert.Equal(t, "env-agent", actor.ID)
}

func TestResolveActor_FlagsOverride(t *testing.T) {
	t.Setenv("MEMD_AGENT", "env-agent")

	cmd := newIdentityCmd()
	require.NoError(t, cmd.Flags().Set("agent", "flag-agent"))
	require.NoError(t, cmd.Flags().Set("actor-type", "human"))

	actor := resolveActor(cmd)
	assert.Equal(t, "flag-agent", actor.ID)
	assert.Equal(t, models.ActorHuman, actor.Type)
}

func TestRequireActor_Validation(t *testing.T) {
	t.Setenv("MEMD_AGENT", "")

	_, err := requireActor(newIdentityCmd())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMD_AGENT")

	cmd := newIdentityCmd()
	require.NoError(t, cmd.Flags().Set("agent", "a1"))
	require.NoError(t, cmd.Flags().Set("actor-type", "daemon"))
	_, err = requireActor(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown actor type")
}
