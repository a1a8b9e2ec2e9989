package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/worker"
)

func NewServeCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the consolidation worker",
		Long: `Run the background consolidation worker: refresh wake-up aggregates,
expire capsules, cache reflections, and prune audit history past retention.

With --once a single pass runs and the command exits; otherwise it loops on
the configured interval until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.EffectiveConfig()

			db, closeDB, err := openDB()
			if err != nil {
				return cmdErr(err)
			}
			defer closeDB()

			c := worker.New(db, cfg)

			if once {
				if err := c.RunOnce(cmd.Context()); err != nil {
					return cmdErr(err)
				}
				type resp struct {
					Completed bool `json:"completed"`
				}
				return output.PrintSuccess(resp{Completed: true})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return cmdErr(err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run one pass and exit")

	return cmd
}
