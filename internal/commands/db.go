package commands

import (
	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

func NewDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	cmd.AddCommand(newDBPathCmd())
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the resolved database path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := app.GetDBPath()
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				Path string `json:"path"`
			}
			return output.PrintSuccess(resp{Path: dbPath})
		},
	}
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and report the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the database runs migrations.
			db, closeDB, err := openDB()
			if err != nil {
				return cmdErr(err)
			}
			defer closeDB()

			current, latest, err := store.SchemaVersion(db)
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				SchemaVersion int64 `json:"schema_version"`
				LatestVersion int64 `json:"latest_version"`
			}
			return output.PrintSuccess(resp{SchemaVersion: current, LatestVersion: latest})
		},
	}
	return cmd
}
