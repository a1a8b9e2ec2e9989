package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

func NewCapsuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capsule",
		Short: "Curated, audience-scoped, TTL-bounded memory bundles",
	}

	cmd.AddCommand(newCapsuleCreateCmd())
	cmd.AddCommand(newCapsuleListCmd())
	cmd.AddCommand(newCapsuleGetCmd())
	cmd.AddCommand(newCapsuleRevokeCmd())
	return cmd
}

func newCapsuleCreateCmd() *cobra.Command {
	var (
		scope       string
		subjectType string
		subjectID   string
		projectID   string
		audience    []string
		chunks      []string
		decisions   []string
		artifacts   []string
		risks       []string
		ttlDays     int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Curate a capsule for an audience",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}
			if len(audience) == 0 {
				return cmdErr(fmt.Errorf("--audience is required"))
			}

			in := &store.CapsuleInput{
				Scope:       models.ScopeKind(scope),
				SubjectType: subjectType,
				SubjectID:   subjectID,
				ProjectID:   projectID,
				Audience:    audience,
				Items: models.CapsuleItems{
					Chunks:    chunks,
					Decisions: decisions,
					Artifacts: artifacts,
				},
				Risks:   risks,
				TTLDays: ttlDays,
			}

			var c *models.Capsule
			if err := withDB(func(db *DB) error {
				res, createErr := actions.CreateCapsule(db, tenant, actor, in)
				if createErr != nil {
					return createErr
				}
				c = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(c)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "user", "Scope: session|user|project|policy|global")
	cmd.Flags().StringVar(&subjectType, "subject-type", "", "Subject type (required)")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject id (required)")
	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	cmd.Flags().StringSliceVar(&audience, "audience", nil, "Agent id allowed to open (repeatable, required)")
	cmd.Flags().StringSliceVar(&chunks, "chunk", nil, "Curated chunk id (repeatable)")
	cmd.Flags().StringSliceVar(&decisions, "decision", nil, "Curated decision id (repeatable)")
	cmd.Flags().StringSliceVar(&artifacts, "artifact", nil, "Curated artifact id (repeatable)")
	cmd.Flags().StringSliceVar(&risks, "risk", nil, "Known risk note (repeatable)")
	cmd.Flags().IntVar(&ttlDays, "ttl-days", 0, "Lifetime in days (clamped to the configured range)")

	return cmd
}

func newCapsuleListCmd() *cobra.Command {
	var (
		subjectType string
		subjectID   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Active capsules visible to the acting agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var capsules []*models.Capsule
			if err := withDB(func(db *DB) error {
				cs, listErr := actions.ListCapsules(db, tenant, actor.ID, subjectType, subjectID)
				if listErr != nil {
					return listErr
				}
				capsules = cs
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Count    int               `json:"count"`
				Capsules []*models.Capsule `json:"capsules"`
			}
			return output.PrintSuccess(resp{Count: len(capsules), Capsules: capsules})
		},
	}

	cmd.Flags().StringVar(&subjectType, "subject-type", "", "Subject type filter")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject id filter")

	return cmd
}

func newCapsuleGetCmd() *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "get <capsule-id>",
		Short: "Open a capsule, expanding curated items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var opened *store.OpenedCapsule
			if err := withDB(func(db *DB) error {
				o, openErr := actions.GetCapsule(db, tenant, args[0], actor.ID, models.Channel(channel))
				if openErr != nil {
					return openErr
				}
				opened = o
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(opened)
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Reader channel for item projection")

	return cmd
}

func newCapsuleRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <capsule-id>",
		Short: "Revoke a capsule (author only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}

			if err := withDB(func(db *DB) error {
				return actions.RevokeCapsule(db, tenant, actor, args[0])
			}); err != nil {
				return err
			}

			type resp struct {
				CapsuleID string `json:"capsule_id"`
				Revoked   bool   `json:"revoked"`
			}
			return output.PrintSuccess(resp{CapsuleID: args[0], Revoked: true})
		},
	}
	return cmd
}
