package main

import (
	"time"

	"github.com/spf13/cobra"

	"parkwatch/internal/evidence"
)

func newCleanupCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete evidence images older than the configured retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			writer, err := evidence.NewWriter(cfg.Evidence.Dir, log)
			if err != nil {
				return err
			}
			removed, err := writer.CleanOld(cfg.Evidence.MaxAge, time.Now())
			if err != nil {
				return err
			}
			log.Info().Int("removed", removed).Msg("evidence cleanup complete")
			return nil
		},
	}
}
