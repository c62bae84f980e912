package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/db"
	"golang.org/x/term"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the Conductor database",
		Long:  "Creates the database if needed and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runDBInit(cmd, cfg)
		},
	}
}

func runDBInit(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()

	if err := db.Prepare(cfg.Database); err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}()
	fmt.Fprintf(out, "Connected to %s\n", describeDB(cfg.Database))

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	fmt.Fprintln(out, "\nConductor database initialized successfully.")
	return nil
}

func newDBResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-initialize the Conductor database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !yes && !confirm(cmd, describeDB(cfg.Database), "reset") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			if err := db.Drop(cfg.Database); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", describeDB(cfg.Database))
			return runDBInit(cmd, cfg)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func describeDB(cfg config.DatabaseConfig) string {
	if cfg.Driver == "sqlite" {
		return "sqlite database " + cfg.Path
	}
	return fmt.Sprintf("mysql database %s on %s:%d", cfg.Name, cfg.Host, cfg.Port)
}

// confirm shows what is about to be destroyed and requires the user to type
// answer back. Non-terminal *os.File input is refused so scripts must pass --yes.
func confirm(cmd *cobra.Command, target, answer string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, "Refusing to prompt on non-interactive input; pass --yes to confirm.")
		return false
	}

	fmt.Fprintf(out, "%s will be removed permanently.\n", target)
	fmt.Fprintf(out, "Type %q to continue: ", answer)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.TrimSpace(line) == answer
}
