package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"parkwatch/internal/db"
	"parkwatch/internal/repository"
)

func newVehiclesCommand(configFlag *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "vehicles",
		Short: "Print the current vehicle records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			gdb, err := db.Open(cfg.Database)
			if err != nil {
				return err
			}
			repo := repository.NewVehicleRepository(gdb)

			records, err := repo.List(cmd.Context(), repository.ListFilter{Limit: limit})
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"Track ID", "Status", "Left", "Updated", "Image"})
			for _, r := range records {
				tw.AppendRow(table.Row{
					strconv.FormatInt(r.TrackID, 10),
					r.Status().String(),
					r.IsLeft,
					r.UpdateTime.Format("2006-01-02 15:04:05"),
					r.ImagePath,
				})
			}
			tw.Render()

			fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", len(records))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records to print")
	return cmd
}
