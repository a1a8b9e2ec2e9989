package commands

import (
	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

func NewChunksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunks",
		Short: "Read, search, and walk derived memory chunks",
	}

	cmd.AddCommand(newChunksGetCmd())
	cmd.AddCommand(newChunksSearchCmd())
	cmd.AddCommand(newChunksTimelineCmd())
	return cmd
}

func newChunksGetCmd() *cobra.Command {
	var (
		channel            string
		includeQuarantined bool
	)

	cmd := &cobra.Command{
		Use:   "get <chunk-id>...",
		Short: "Fetch chunks in their effective (post-edit) form",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var chunks []*models.EffectiveChunk
			if err := withDB(func(db *DB) error {
				cs, getErr := actions.GetChunks(db, tenant, args, models.Channel(channel), includeQuarantined)
				if getErr != nil {
					return getErr
				}
				chunks = cs
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Count  int                      `json:"count"`
				Chunks []*models.EffectiveChunk `json:"chunks"`
			}
			return output.PrintSuccess(resp{Count: len(chunks), Chunks: chunks})
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Reader channel (blocked chunks are hidden on it)")
	cmd.Flags().BoolVar(&includeQuarantined, "include-quarantined", false, "Include quarantined chunks (flagged)")

	return cmd
}

func newChunksSearchCmd() *cobra.Command {
	var (
		query              string
		tags               []string
		session            string
		scope              string
		subjectType        string
		subjectID          string
		projectID          string
		limit              int
		channel            string
		includeQuarantined bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Ranked lexical retrieval over chunk text",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			sq := store.SearchQuery{
				Query:       query,
				Tags:        tags,
				SessionID:   session,
				Scope:       models.ScopeKind(scope),
				SubjectType: subjectType,
				SubjectID:   subjectID,
				ProjectID:   projectID,
				Limit:       limit,
			}

			var results []store.SearchResult
			if err := withDB(func(db *DB) error {
				rs, searchErr := actions.SearchChunks(db, tenant, sq, models.Channel(channel), includeQuarantined)
				if searchErr != nil {
					return searchErr
				}
				results = rs
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Query   string               `json:"query"`
				Count   int                  `json:"count"`
				Results []store.SearchResult `json:"results"`
			}
			return output.PrintSuccess(resp{Query: query, Count: len(results), Results: results})
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Search text (required)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag filter with overlap boost (repeatable)")
	cmd.Flags().StringVar(&session, "session", "", "Restrict to one session")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope filter")
	cmd.Flags().StringVar(&subjectType, "subject-type", "", "Subject type filter")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject id filter")
	cmd.Flags().StringVar(&projectID, "project", "", "Project id filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results (default 20, max 100)")
	cmd.Flags().StringVar(&channel, "channel", "", "Reader channel")
	cmd.Flags().BoolVar(&includeQuarantined, "include-quarantined", false, "Include quarantined chunks (flagged)")

	return cmd
}

func newChunksTimelineCmd() *cobra.Command {
	var (
		window             int64
		channel            string
		includeQuarantined bool
	)

	cmd := &cobra.Command{
		Use:   "timeline <chunk-id>",
		Short: "Show a chunk's same-session neighbors within a time window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var entries []store.TimelineEntry
			if err := withDB(func(db *DB) error {
				es, tlErr := actions.GetTimeline(db, tenant, args[0], window, models.Channel(channel), includeQuarantined)
				if tlErr != nil {
					return tlErr
				}
				entries = es
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				AnchorID string                `json:"anchor_chunk_id"`
				Count    int                   `json:"count"`
				Entries  []store.TimelineEntry `json:"entries"`
			}
			return output.PrintSuccess(resp{AnchorID: args[0], Count: len(entries), Entries: entries})
		},
	}

	cmd.Flags().Int64Var(&window, "window", 0, "Window in seconds around the anchor (default 600)")
	cmd.Flags().StringVar(&channel, "channel", "", "Reader channel")
	cmd.Flags().BoolVar(&includeQuarantined, "include-quarantined", false, "Include quarantined chunks (flagged)")

	return cmd
}
