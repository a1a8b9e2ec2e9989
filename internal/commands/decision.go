package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

func NewDecisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Append-only decision ledger with supersession",
	}

	cmd.AddCommand(newDecisionCreateCmd())
	cmd.AddCommand(newDecisionSupersedeCmd())
	cmd.AddCommand(newDecisionGetCmd())
	cmd.AddCommand(newDecisionActiveCmd())
	cmd.AddCommand(newDecisionChainCmd())
	return cmd
}

func decisionInputFlags(cmd *cobra.Command, in *decisionFlagSet) {
	cmd.Flags().StringVar(&in.scope, "scope", "project", "Scope: session|user|project|policy|global")
	cmd.Flags().StringVar(&in.decision, "decision", "", "Decision text (required)")
	cmd.Flags().StringSliceVar(&in.rationale, "rationale", nil, "Rationale line (repeatable)")
	cmd.Flags().StringSliceVar(&in.constraints, "constraint", nil, "Constraint (repeatable)")
	cmd.Flags().StringSliceVar(&in.alternatives, "alternative", nil, "Rejected alternative (repeatable)")
	cmd.Flags().StringSliceVar(&in.consequences, "consequence", nil, "Consequence (repeatable)")
	cmd.Flags().StringSliceVar(&in.refs, "ref", nil, "Referenced id (repeatable)")
	cmd.Flags().StringVar(&in.subjectType, "subject-type", "", "Subject type")
	cmd.Flags().StringVar(&in.subjectID, "subject-id", "", "Subject id")
	cmd.Flags().StringVar(&in.projectID, "project", "", "Project id")
}

type decisionFlagSet struct {
	scope        string
	decision     string
	rationale    []string
	constraints  []string
	alternatives []string
	consequences []string
	refs         []string
	subjectType  string
	subjectID    string
	projectID    string
}

func (f *decisionFlagSet) input() *store.DecisionInput {
	return &store.DecisionInput{
		Scope:        models.ScopeKind(f.scope),
		Decision:     f.decision,
		Rationale:    f.rationale,
		Constraints:  f.constraints,
		Alternatives: f.alternatives,
		Consequences: f.consequences,
		Refs:         f.refs,
		SubjectType:  f.subjectType,
		SubjectID:    f.subjectID,
		ProjectID:    f.projectID,
	}
}

func newDecisionCreateCmd() *cobra.Command {
	var flags decisionFlagSet

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a new decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}
			if flags.decision == "" {
				return cmdErr(fmt.Errorf("--decision is required"))
			}

			var d *models.Decision
			if err := withDB(func(db *DB) error {
				res, createErr := actions.CreateDecision(db, tenant, actor, flags.input())
				if createErr != nil {
					return createErr
				}
				d = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(d)
		},
	}

	decisionInputFlags(cmd, &flags)
	return cmd
}

func newDecisionSupersedeCmd() *cobra.Command {
	var flags decisionFlagSet

	cmd := &cobra.Command{
		Use:   "supersede <predecessor-id>",
		Short: "Replace an active decision with a new one atomically",
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
			if flags.decision == "" {
				return cmdErr(fmt.Errorf("--decision is required"))
			}

			var d *models.Decision
			if err := withDB(func(db *DB) error {
				res, supErr := actions.SupersedeDecision(db, tenant, actor, args[0], flags.input())
				if supErr != nil {
					return supErr
				}
				d = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(d)
		},
	}

	decisionInputFlags(cmd, &flags)
	return cmd
}

func newDecisionGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <decision-id>",
		Short: "Fetch one decision ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var d *models.Decision
			if err := withDB(func(db *DB) error {
				res, getErr := actions.GetDecision(db, tenant, args[0])
				if getErr != nil {
					return getErr
				}
				d = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(d)
		},
	}
	return cmd
}

func newDecisionActiveCmd() *cobra.Command {
	var (
		subjectType        string
		subjectID          string
		projectID          string
		limit              int
		channel            string
		includeQuarantined bool
	)

	cmd := &cobra.Command{
		Use:   "active",
		Short: "Effective active decisions ordered by scope precedence",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			f := store.ActiveDecisionsFilter{
				SubjectType: subjectType,
				SubjectID:   subjectID,
				ProjectID:   projectID,
				Limit:       limit,
			}

			var decisions []*store.EffectiveDecision
			if err := withDB(func(db *DB) error {
				ds, listErr := actions.GetActiveDecisions(db, tenant, f, models.Channel(channel), includeQuarantined)
				if listErr != nil {
					return listErr
				}
				decisions = ds
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Count     int                        `json:"count"`
				Decisions []*store.EffectiveDecision `json:"decisions"`
			}
			return output.PrintSuccess(resp{Count: len(decisions), Decisions: decisions})
		},
	}

	cmd.Flags().StringVar(&subjectType, "subject-type", "", "Subject type filter")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject id filter")
	cmd.Flags().StringVar(&projectID, "project", "", "Project id filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max decisions (default 50)")
	cmd.Flags().StringVar(&channel, "channel", "", "Reader channel")
	cmd.Flags().BoolVar(&includeQuarantined, "include-quarantined", false, "Include quarantined decisions (flagged)")

	return cmd
}

func newDecisionChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <decision-id>",
		Short: "Walk the supersession chain backwards, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var chain []*models.Decision
			if err := withDB(func(db *DB) error {
				ds, chainErr := actions.GetDecisionChain(db, tenant, args[0])
				if chainErr != nil {
					return chainErr
				}
				chain = ds
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Count int                `json:"count"`
				Chain []*models.Decision `json:"chain"`
			}
			return output.PrintSuccess(resp{Count: len(chain), Chain: chain})
		},
	}
	return cmd
}
