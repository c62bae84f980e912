package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/conductor/internal/review"
)

func newChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Review submitted changes",
	}

	cmd.AddCommand(newChangesListCmd())
	cmd.AddCommand(newChangeDecideCmd("accept", "Accept and apply a pending change", (*review.Service).Accept))
	cmd.AddCommand(newChangeDecideCmd("decline", "Decline a pending change", (*review.Service).Decline))
	cmd.AddCommand(newSubmissionDecideCmd("accept-all", "Accept every pending change of a submission", (*review.Service).AcceptAll))
	cmd.AddCommand(newSubmissionDecideCmd("decline-all", "Decline every pending change of a submission", (*review.Service).DeclineAll))
	return cmd
}

func newChangesListCmd() *cobra.Command {
	var status, submission string

	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List submitted changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "project id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				changes, err := a.review.List(id, review.Query{Status: status, SubmissionID: submission})
				if err != nil {
					return err
				}
				if len(changes) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No changes.")
					return nil
				}
				tw := newTable(cmd.OutOrStdout(), "ID", "Submission", "Type", "Status", "Submitted By", "Reviewed By", "Created")
				for _, c := range changes {
					tw.AppendRow([]any{
						c.ID, truncate(c.SubmissionID, 8), c.ChangeType, c.Status,
						c.SubmittedBy + " (" + c.SubmittedByRole + ")", c.ReviewedBy, formatTime(&c.CreatedAt),
					})
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "pending", "status filter (pending, accepted, declined; empty for all)")
	cmd.Flags().StringVar(&submission, "submission", "", "submission id filter")
	return cmd
}

type decideFunc func(s *review.Service, ctx context.Context, projectID, changeID uint, reviewer string) (*review.Decision, error)

func newChangeDecideCmd(use, short string, fn decideFunc) *cobra.Command {
	var reviewer string

	cmd := &cobra.Command{
		Use:   use + " <project-id> <change-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0], "project id")
			if err != nil {
				return err
			}
			changeID, err := parseID(args[1], "change id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				d, err := fn(a.review, cmd.Context(), projectID, changeID, reviewer)
				if err != nil {
					return err
				}
				printDecision(cmd.OutOrStdout(), *d)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer name recorded on the change (required)")
	cmd.MarkFlagRequired("reviewer")
	return cmd
}

type decideAllFunc func(s *review.Service, ctx context.Context, projectID uint, submissionID, reviewer string) ([]review.Decision, error)

func newSubmissionDecideCmd(use, short string, fn decideAllFunc) *cobra.Command {
	var reviewer string

	cmd := &cobra.Command{
		Use:   use + " <project-id> <submission-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0], "project id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				decisions, err := fn(a.review, cmd.Context(), projectID, args[1], reviewer)
				for _, d := range decisions {
					printDecision(cmd.OutOrStdout(), d)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer name recorded on the changes (required)")
	cmd.MarkFlagRequired("reviewer")
	return cmd
}

func printDecision(out io.Writer, d review.Decision) {
	fmt.Fprintf(out, "Change %d (%s) %s", d.Change.ID, d.Change.ChangeType, d.Change.Status)
	if d.Outcome.Skipped {
		fmt.Fprintf(out, ", skipped: %s", d.Outcome.Reason)
	}
	fmt.Fprintf(out, "; %d pending in submission\n", d.RemainingPending)
}
