package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/metarepo/internal/db"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the postgres schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(opts, func(mg *db.Migrator) error { return mg.Up() })
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1, got %d", steps)
			}
			return withMigrator(opts, func(mg *db.Migrator) error { return mg.Down(steps) })
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(opts, func(mg *db.Migrator) error {
				v, dirty, err := mg.Version()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return err
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func withMigrator(opts *rootOptions, fn func(*db.Migrator) error) error {
	mg, err := db.NewMigrator(opts.cfg.Database, opts.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := mg.Close(); cerr != nil {
			opts.logger.Warn("failed to close migrator", "error", cerr)
		}
	}()
	return fn(mg)
}
