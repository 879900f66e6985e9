package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"parkwatch/internal/config"
	"parkwatch/internal/logging"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "parkwatch",
		Short:         "Illegal-parking detection pipeline and records service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newMigrateCommand(&configFlag))
	rootCmd.AddCommand(newVehiclesCommand(&configFlag))
	rootCmd.AddCommand(newCleanupCommand(&configFlag))

	return rootCmd
}

// loadConfig resolves the config file flag and builds the root logger.
func loadConfig(path string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Pretty), nil
}
