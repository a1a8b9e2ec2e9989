package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

func NewHandoffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Session reflections and stratified wake-up",
	}

	cmd.AddCommand(newHandoffCreateCmd())
	cmd.AddCommand(newHandoffLastCmd())
	cmd.AddCommand(newHandoffListCmd())
	cmd.AddCommand(newHandoffWakeupCmd())
	return cmd
}

func newHandoffCreateCmd() *cobra.Command {
	var (
		withWhom     string
		session      string
		experienced  string
		noticed      string
		learned      string
		story        string
		becoming     string
		remember     string
		significance float64
		tags         []string
		compression  string
		influencedBy string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write an immutable end-of-session reflection",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}
			if withWhom == "" {
				return cmdErr(fmt.Errorf("--with is required"))
			}
			if experienced == "" {
				return cmdErr(fmt.Errorf("--experienced is required"))
			}

			in := &store.HandoffInput{
				WithWhom:         withWhom,
				SessionID:        session,
				Experienced:      experienced,
				Noticed:          noticed,
				Learned:          learned,
				Story:            story,
				Becoming:         becoming,
				Remember:         remember,
				Significance:     significance,
				Tags:             tags,
				CompressionLevel: models.CompressionLevel(compression),
				InfluencedBy:     influencedBy,
			}

			var h *models.Handoff
			if err := withDB(func(db *DB) error {
				res, createErr := actions.CreateHandoff(db, tenant, actor, in)
				if createErr != nil {
					return createErr
				}
				h = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(h)
		},
	}

	cmd.Flags().StringVar(&withWhom, "with", "", "Relationship partner id (required)")
	cmd.Flags().StringVar(&session, "session", "", "Session id (required)")
	cmd.Flags().StringVar(&experienced, "experienced", "", "What happened this session (required)")
	cmd.Flags().StringVar(&noticed, "noticed", "", "Patterns noticed")
	cmd.Flags().StringVar(&learned, "learned", "", "What was learned")
	cmd.Flags().StringVar(&story, "story", "", "Narrative form")
	cmd.Flags().StringVar(&becoming, "becoming", "", "Direction of the relationship")
	cmd.Flags().StringVar(&remember, "remember", "", "What the next session must know")
	cmd.Flags().Float64Var(&significance, "significance", 0.5, "Significance in [0,1]")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringVar(&compression, "compression", "", "Compression level: full|summary|quick_ref")
	cmd.Flags().StringVar(&influencedBy, "influenced-by", "", "Prior handoff id that shaped this session")

	return cmd
}

func newHandoffLastCmd() *cobra.Command {
	var withWhom string

	cmd := &cobra.Command{
		Use:   "last",
		Short: "Most recent handoff for a relationship",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var h *models.Handoff
			if err := withDB(func(db *DB) error {
				res, getErr := actions.GetLastHandoff(db, tenant, withWhom)
				if getErr != nil {
					return getErr
				}
				h = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(h)
		},
	}

	cmd.Flags().StringVar(&withWhom, "with", "", "Relationship partner id (required)")

	return cmd
}

func newHandoffListCmd() *cobra.Command {
	var (
		withWhom        string
		limit           int
		minSignificance float64
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Recent handoffs for a relationship, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var handoffs []*models.Handoff
			if err := withDB(func(db *DB) error {
				hs, listErr := actions.ListHandoffs(db, tenant, withWhom, limit, minSignificance)
				if listErr != nil {
					return listErr
				}
				handoffs = hs
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				WithWhom string            `json:"with_whom"`
				Count    int               `json:"count"`
				Handoffs []*models.Handoff `json:"handoffs"`
			}
			return output.PrintSuccess(resp{WithWhom: withWhom, Count: len(handoffs), Handoffs: handoffs})
		},
	}

	cmd.Flags().StringVar(&withWhom, "with", "", "Relationship partner id (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max handoffs (default 10)")
	cmd.Flags().Float64Var(&minSignificance, "min-significance", 0, "Keep only handoffs at or above this significance")

	return cmd
}

func newHandoffWakeupCmd() *cobra.Command {
	var (
		withWhom        string
		layers          []string
		query           string
		limit           int
		minSignificance float64
	)

	cmd := &cobra.Command{
		Use:   "wakeup",
		Short: "Load session memory at chosen depths",
		Long: `Load session memory at one or more depths, lightest first:

  metadata     one aggregate row (sessions, significance, people, tags)
  reflection   cached consolidated insights
  recent       the last N handoffs
  progressive  lexical topic lookup across all handoffs (--query)

Layers combine: --layer metadata --layer recent loads both in one call.
A relationship with no handoffs yet wakes up with first_session=true.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var result *actions.WakeUpResult
			if err := withDB(func(db *DB) error {
				r, wakeErr := actions.WakeUp(db, tenant, withWhom, layers, query, limit, minSignificance)
				if wakeErr != nil {
					return wakeErr
				}
				result = r
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(result)
		},
	}

	cmd.Flags().StringVar(&withWhom, "with", "", "Relationship partner id (required)")
	cmd.Flags().StringSliceVar(&layers, "layer", []string{actions.WakeUpMetadata}, "Layer: metadata|reflection|recent|progressive (repeatable)")
	cmd.Flags().StringVar(&query, "query", "", "Topic query (progressive)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max handoffs (recent/progressive)")
	cmd.Flags().Float64Var(&minSignificance, "min-significance", 0, "Significance floor (recent)")

	return cmd
}
