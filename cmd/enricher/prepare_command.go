package main

import (
	"github.com/spf13/cobra"

	"github.com/shpitdev/listing-enricher/internal/app"
)

func newPrepareCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Rebuild the AI-memo sheet from the listing sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, nil)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			rep, err := app.Prepare(ctx, store, cfg.Layout, logger)
			if err != nil {
				return err
			}
			renderTable(cmd.OutOrStdout(), []string{"Rows", "Headers", "Images", "Dropped", "Padded", "Duration"},
				[][]any{{rep.Rows, rep.Headers, rep.Images, rep.Dropped, rep.Padded, humanDuration(rep.Duration)}})
			return nil
		},
	}
}
