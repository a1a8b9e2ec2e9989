package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
)

func NewArtifactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Content-addressed references to external blobs",
	}

	cmd.AddCommand(newArtifactRegisterCmd())
	cmd.AddCommand(newArtifactGetCmd())
	return cmd
}

func newArtifactRegisterCmd() *cobra.Command {
	var (
		contentHash string
		contentType string
		sizeBytes   int64
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a blob reference by its sha256",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}
			if contentHash == "" {
				return cmdErr(fmt.Errorf("--hash is required"))
			}

			var a *models.Artifact
			if err := withDB(func(db *DB) error {
				res, regErr := actions.RegisterArtifact(db, tenant, actor, contentHash, contentType, sizeBytes)
				if regErr != nil {
					return regErr
				}
				a = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(a)
		},
	}

	cmd.Flags().StringVar(&contentHash, "hash", "", "Lowercase hex sha256 of the content (required)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type")
	cmd.Flags().Int64Var(&sizeBytes, "size", 0, "Content size in bytes")

	return cmd
}

func newArtifactGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <artifact-id>",
		Short: "Fetch one artifact reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var a *models.Artifact
			if err := withDB(func(db *DB) error {
				res, getErr := actions.GetArtifact(db, tenant, args[0])
				if getErr != nil {
					return getErr
				}
				a = res
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(a)
		},
	}
	return cmd
}
