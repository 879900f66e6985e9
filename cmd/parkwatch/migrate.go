package main

import (
	"github.com/spf13/cobra"

	"parkwatch/internal/db"
)

func newMigrateCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			if _, err := db.Open(cfg.Database); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}
