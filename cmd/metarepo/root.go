package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rpattn/metarepo/internal/config"
	"github.com/rpattn/metarepo/internal/logging"
)

var version = "dev"

type rootOptions struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "metarepo",
		Short:         "Metadata instance repository tooling",
		Long:          `Manage the schema, type catalogue and capabilities of a metadata instance repository.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewWithWriter(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file or directory holding metarepo.yaml (default: current directory)")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newTypeDefsCmd(opts))
	cmd.AddCommand(newCapabilitiesCmd(opts))
	return cmd
}
