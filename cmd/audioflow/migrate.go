package main

import (
	"github.com/spf13/cobra"

	"github.com/audioflow/audioflow/internal/db"
	"github.com/audioflow/audioflow/internal/logger"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	run := func(command string) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			migrations, err := migrationsFS()
			if err != nil {
				return err
			}
			return db.RunMigrate(logger.L, cfg.Postgres, migrations, command, args)
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up [N]", Short: "Apply N or all pending migrations", Args: cobra.MaximumNArgs(1), RunE: run("up")},
		&cobra.Command{Use: "down [N]", Short: "Roll back N or all migrations", Args: cobra.MaximumNArgs(1), RunE: run("down")},
		&cobra.Command{Use: "version", Short: "Print the applied migration version", Args: cobra.NoArgs, RunE: run("version")},
		&cobra.Command{Use: "force VERSION", Short: "Set the migration version without running it", Args: cobra.ExactArgs(1), RunE: run("force")},
	)
	return cmd
}
