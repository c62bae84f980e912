package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/runbook"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project management commands",
	}

	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectShowCmd())
	cmd.AddCommand(newProjectImportCmd())
	cmd.AddCommand(newProjectDeleteCmd())
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				projects, err := a.store.Projects()
				if err != nil {
					return err
				}
				if len(projects) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
					return nil
				}
				tw := newTable(cmd.OutOrStdout(), "ID", "Name", "Version", "Manager Role", "Epoch")
				for _, p := range projects {
					tw.AppendRow([]any{p.ID, p.Name, p.Version, p.ManagerRole, p.ResetEpoch})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func newProjectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project's phases and rows in display order",
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
				table, err := a.store.Table(id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s (manager role %q)\n", p.Name, p.Version, p.ManagerRole)
				tw := newTable(out, "Phase", "Active", "Row", "Role", "Time", "Duration", "Description", "Status")
				for _, ph := range table {
					for _, r := range ph.Rows {
						tw.AppendRow([]any{ph.Phase, ph.IsActive, r.ID, r.Role, r.Time, r.Duration, truncate(r.Description, 48), r.Status})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func newProjectImportCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Create a project from a JSON runbook export",
		Long: `Reads {"name", "version", "manager_role", "rows": [{"phase", "role", "time",
"duration", "description", "script", "status"}]} and creates the project.
Rows without a phase are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var in runbook.ImportInput
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return withApp(cmd, func(a *app) error {
				role := in.ManagerRole
				if role == "" {
					role = "Manager"
				}
				p, err := a.store.Import(in, audit.Actor{Name: user, Role: role})
				if err != nil {
					return err
				}
				table, err := a.store.Table(p.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported project %d %q with %d phases and %d rows\n",
					p.ID, p.Name, len(table), table.RowCount())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "cli", "user name recorded in the action log")
	return cmd
}

func newProjectDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and everything in it",
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
				if !yes && !confirm(cmd, fmt.Sprintf("Project %q", p.Name), p.Name) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
				if err := a.store.DeleteProject(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %d %q\n", p.ID, p.Name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}
