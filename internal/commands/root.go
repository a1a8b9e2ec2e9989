package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "memd",
		Short:         "Multi-tenant agent memory (events, context bundles, decisions, capsules, handoffs)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}

			// Wire --db-path into app-level resolver.
			if dbPath, err := cmd.Flags().GetString("db-path"); err == nil && dbPath != "" {
				app.SetDBPathOverride(dbPath)
			}

			return nil
		},
	}

	root.PersistentFlags().String("db-path", "", "Override database path")
	root.PersistentFlags().StringP("tenant", "t", "", "Tenant id (default: $MEMD_TENANT)")
	root.PersistentFlags().StringP("agent", "a", "", "Acting agent id (default: $MEMD_AGENT)")
	root.PersistentFlags().String("actor-type", "agent", "Actor type: human|agent|tool")
	root.Flags().BoolP("version", "v", false, "version for memd")

	root.AddCommand(NewEventsCmd())
	root.AddCommand(NewACBCmd())
	root.AddCommand(NewChunksCmd())
	root.AddCommand(NewDecisionCmd())
	root.AddCommand(NewTaskCmd())
	root.AddCommand(NewCapsuleCmd())
	root.AddCommand(NewEditCmd())
	root.AddCommand(NewHandoffCmd())
	root.AddCommand(NewArtifactCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewDBCmd())
	root.AddCommand(NewSchemaCmd(root))

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Error("command failed", "error", err.Error())
		}
	}
	return err
}
