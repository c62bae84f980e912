package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/notify"
)

func newLogsCmd() *cobra.Command {
	var (
		epoch  int
		action string
		user   string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "logs <project-id>",
		Short: "Show a project's action log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "project id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				p, err := a.store.Project(id)
				if err != nil {
					return err
				}
				q := audit.Query{ActionType: action, UserName: user, Limit: limit}
				if cmd.Flags().Changed("epoch") {
					q.Epoch = &epoch
				}
				logs, err := audit.List(a.db, p, q)
				if err != nil {
					return err
				}
				if len(logs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No log entries.")
					return nil
				}
				tw := newTable(cmd.OutOrStdout(), "Time", "Epoch", "User", "Role", "Action", "Details")
				for _, l := range logs {
					tw.AppendRow([]any{formatTime(&l.Timestamp), l.ResetEpoch, l.UserName, l.UserRole, l.ActionType, truncate(string(l.ActionDetails), 60)})
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&epoch, "epoch", 0, "reset epoch (default: current)")
	cmd.Flags().StringVar(&action, "action", "", "action type filter")
	cmd.Flags().StringVar(&user, "user", "", "user name filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func newResetStatusesCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "reset-statuses <project-id>",
		Short: "Set every row back to N/A and start a new log epoch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "project id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				p, err := a.store.Project(id)
				if err != nil {
					return err
				}
				res, err := a.store.ResetStatuses(id, audit.Actor{Name: user, Role: p.ManagerRole})
				if err != nil {
					return err
				}
				err = a.notifier.Notify(cmd.Context(), notify.ProjectRoom(id), notify.EventDataChanged, notify.DataChanged{
					ProjectID: id, Reason: audit.ActionResetStatuses, UserName: user,
				})
				if err != nil {
					a.log.Warn("notify failed", "project", id, "error", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d rows; epoch is now %d\n", res.RowsCount, res.Epoch)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "cli", "user name recorded in the action log")
	return cmd
}
