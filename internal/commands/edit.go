package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

func NewEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Memory surgery: retract, amend, attenuate, quarantine, block",
	}

	cmd.AddCommand(newEditApplyCmd())
	cmd.AddCommand(newEditApproveCmd())
	cmd.AddCommand(newEditRejectCmd())
	cmd.AddCommand(newEditListCmd())
	return cmd
}

func newEditApplyCmd() *cobra.Command {
	var (
		targetType      string
		targetID        string
		op              string
		reason          string
		text            string
		importance      float64
		importanceDelta float64
		channel         string
		autoApprove     bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Propose (or auto-approve) an edit against a chunk, decision, or capsule",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}
			if targetID == "" {
				return cmdErr(fmt.Errorf("--target is required"))
			}
			if reason == "" {
				return cmdErr(fmt.Errorf("--reason is required"))
			}

			patch := models.EditPatch{Channel: models.Channel(channel)}
			if cmd.Flags().Changed("text") {
				patch.Text = &text
			}
			if cmd.Flags().Changed("importance") {
				patch.Importance = &importance
			}
			if cmd.Flags().Changed("importance-delta") {
				patch.ImportanceDelta = &importanceDelta
			}

			in := &store.EditInput{
				TargetType:  models.EditTargetType(targetType),
				TargetID:    targetID,
				Op:          models.EditOp(op),
				Reason:      reason,
				ProposedBy:  actor.ID,
				Patch:       patch,
				AutoApprove: autoApprove,
			}

			var e *models.MemoryEdit
			if err := withDB(func(db *DB) error {
				res, applyErr := actions.ApplyMemoryEdit(db, tenant, actor, in)
				if applyErr != nil {
					return applyErr
				}
				e = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(e)
		},
	}

	cmd.Flags().StringVar(&targetType, "target-type", "chunk", "Target type: chunk|decision|capsule")
	cmd.Flags().StringVar(&targetID, "target", "", "Target id (required)")
	cmd.Flags().StringVar(&op, "op", "", "Op: retract|amend|attenuate|quarantine|block (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why this edit exists (required)")
	cmd.Flags().StringVar(&text, "text", "", "Replacement text (amend)")
	cmd.Flags().Float64Var(&importance, "importance", 0, "Absolute importance in [0,1] (amend/attenuate)")
	cmd.Flags().Float64Var(&importanceDelta, "importance-delta", 0, "Importance delta (attenuate)")
	cmd.Flags().StringVar(&channel, "block-channel", "", "Channel to hide the target on (block)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Apply immediately under the proposer's authority")

	return cmd
}

func newEditApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <edit-id>",
		Short: "Approve a pending edit so it affects reads",
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

			var e *models.MemoryEdit
			if err := withDB(func(db *DB) error {
				res, appErr := actions.ApproveEdit(db, tenant, actor, args[0])
				if appErr != nil {
					return appErr
				}
				e = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(e)
		},
	}
	return cmd
}

func newEditRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <edit-id>",
		Short: "Reject a pending edit; it never affects reads",
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

			var e *models.MemoryEdit
			if err := withDB(func(db *DB) error {
				res, rejErr := actions.RejectEdit(db, tenant, actor, args[0])
				if rejErr != nil {
					return rejErr
				}
				e = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(e)
		},
	}
	return cmd
}

func newEditListCmd() *cobra.Command {
	var (
		targetType string
		targetID   string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List edits newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			f := store.EditFilter{
				TargetType: models.EditTargetType(targetType),
				TargetID:   targetID,
				Status:     models.EditStatus(status),
				Limit:      limit,
			}

			var edits []*models.MemoryEdit
			if err := withDB(func(db *DB) error {
				es, listErr := actions.ListEdits(db, tenant, f)
				if listErr != nil {
					return listErr
				}
				edits = es
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Count int                  `json:"count"`
				Edits []*models.MemoryEdit `json:"edits"`
			}
			return output.PrintSuccess(resp{Count: len(edits), Edits: edits})
		},
	}

	cmd.Flags().StringVar(&targetType, "target-type", "", "Target type filter")
	cmd.Flags().StringVar(&targetID, "target", "", "Target id filter")
	cmd.Flags().StringVar(&status, "status", "", "Status filter: pending|approved|rejected")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max edits (default 100)")

	return cmd
}
