package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callin2/agent-memory-sub006/internal/actions"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Append to and inspect the interaction log",
	}

	cmd.AddCommand(newEventsRecordCmd())
	cmd.AddCommand(newEventsGetCmd())
	cmd.AddCommand(newEventsListCmd())
	return cmd
}

func newEventsRecordCmd() *cobra.Command {
	var (
		session     string
		channel     string
		kind        string
		sensitivity string
		content     string
		tags        []string
		refs        []string
		scope       string
		subjectType string
		subjectID   string
		projectID   string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one event and derive its chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}
			actor, err := requireActor(cmd)
			if err != nil {
				return cmdErr(err)
			}
			if content == "" {
				return cmdErr(fmt.Errorf("--content is required (JSON)"))
			}

			in := &store.EventInput{
				SessionID:   session,
				Channel:     models.Channel(channel),
				Actor:       actor,
				Kind:        models.EventKind(kind),
				Sensitivity: models.Sensitivity(sensitivity),
				Tags:        tags,
				Content:     json.RawMessage(content),
				Refs:        refs,
				Scope:       models.ScopeKind(scope),
				SubjectType: subjectType,
				SubjectID:   subjectID,
				ProjectID:   projectID,
			}

			var res *store.RecordResult
			if err := withDB(func(db *DB) error {
				r, recErr := actions.RecordEvent(db, tenant, in)
				if recErr != nil {
					return recErr
				}
				res = r
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(res)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session id (required)")
	cmd.Flags().StringVar(&channel, "channel", "private", "Channel: private|team|agent|public")
	cmd.Flags().StringVar(&kind, "kind", "message", "Kind: message|tool_call|tool_result|decision|task_update|artifact")
	cmd.Flags().StringVar(&sensitivity, "sensitivity", "none", "Sensitivity: none|low|high|secret")
	cmd.Flags().StringVar(&content, "content", "", "Event content as JSON (required)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringSliceVar(&refs, "ref", nil, "Referenced event id (repeatable)")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope: session|user|project|policy|global")
	cmd.Flags().StringVar(&subjectType, "subject-type", "", "Subject type")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject id")
	cmd.Flags().StringVar(&projectID, "project", "", "Project id")

	return cmd
}

func newEventsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <event-id>",
		Short: "Fetch one event by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var ev *models.Event
			if err := withDB(func(db *DB) error {
				e, getErr := actions.GetEvent(db, tenant, args[0])
				if getErr != nil {
					return getErr
				}
				ev = e
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(ev)
		},
	}
	return cmd
}

func newEventsListCmd() *cobra.Command {
	var (
		session  string
		limit    int
		cursor   int64
		cursorID string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Page a session's events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := requireTenant(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var page *store.EventPage
			if err := withDB(func(db *DB) error {
				p, listErr := actions.ListEvents(db, tenant, session, limit, cursor, cursorID)
				if listErr != nil {
					return listErr
				}
				page = p
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Session      string          `json:"session_id"`
				Count        int             `json:"count"`
				Events       []*models.Event `json:"events"`
				NextCursor   int64           `json:"next_cursor,omitempty"`
				NextCursorID string          `json:"next_cursor_id,omitempty"`
			}
			return output.PrintSuccess(resp{
				Session:      session,
				Count:        len(page.Events),
				Events:       page.Events,
				NextCursor:   page.NextCursor,
				NextCursorID: page.NextCursorID,
			})
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session id (required)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max events per page (<= 500)")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "Exclusive upper ts bound in microseconds (from next_cursor)")
	cmd.Flags().StringVar(&cursorID, "cursor-id", "", "Event id tie-break at the ts bound (from next_cursor_id)")

	return cmd
}
