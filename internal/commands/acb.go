package commands

import (
	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/acb"
	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
)

func NewACBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acb",
		Short: "Assemble active context bundles",
	}

	cmd.AddCommand(newACBBuildCmd())
	return cmd
}

func newACBBuildCmd() *cobra.Command {
	var (
		session            string
		channel            string
		intent             string
		queryText          string
		subjectType        string
		subjectID          string
		projectID          string
		maxTokens          int
		noCapsules         bool
		includeQuarantined bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a token-budgeted context bundle for one prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}

			req := acb.Request{
				SessionID:          session,
				Channel:            models.Channel(channel),
				Intent:             intent,
				QueryText:          queryText,
				SubjectType:        subjectType,
				SubjectID:          subjectID,
				ProjectID:          projectID,
				AgentID:            actor.ID,
				MaxTokens:          maxTokens,
				IncludeCapsules:    !noCapsules,
				IncludeQuarantined: includeQuarantined,
			}

			var bundle *acb.Bundle
			if err := withDB(func(db *DB) error {
				b, buildErr := actions.BuildACB(cmd.Context(), db, tenant, req)
				if buildErr != nil {
					return buildErr
				}
				bundle = b
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(bundle)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session id for the recent window")
	cmd.Flags().StringVar(&channel, "channel", "private", "Reader channel: private|team|agent|public")
	cmd.Flags().StringVar(&intent, "intent", "", "Intent string for mode detection")
	cmd.Flags().StringVar(&queryText, "query", "", "Retrieval query (defaults to intent)")
	cmd.Flags().StringVar(&subjectType, "subject-type", "", "Subject type filter")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject id filter")
	cmd.Flags().StringVar(&projectID, "project", "", "Project id filter")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Token ceiling (default from config, clamped to 128000)")
	cmd.Flags().BoolVar(&noCapsules, "no-capsules", false, "Skip the capsules section")
	cmd.Flags().BoolVar(&includeQuarantined, "include-quarantined", false, "Include quarantined chunks (flagged)")

	return cmd
}
