package commands

import (
	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/output"
)

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Per-tenant row counts, schema version, last consolidation run",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var st *actions.Status
			if err := withDB(func(db *DB) error {
				s, stErr := actions.GetStatus(db, tenant)
				if stErr != nil {
					return stErr
				}
				st = s
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(st)
		},
	}
	return cmd
}
