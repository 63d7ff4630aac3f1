package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shpitdev/listing-enricher/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "listing-enricher "+version.Current)
			return err
		},
	}
}
