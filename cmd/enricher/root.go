package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	localDir   string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "listing-enricher",
		Short:         "Generate English listing titles, descriptions and item specifics from a spreadsheet",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Configuration file (.yaml, .yml or .toml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (env: LISTING_LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: auto, text, json (env: LISTING_LOG_FORMAT)")
	pf.StringVar(&flags.localDir, "local-dir", "", "Use a directory of <sheet>.csv files instead of Google Sheets (env: LISTING_LOCAL_DIR)")

	rootCmd.AddCommand(newEnrichCommand(flags))
	rootCmd.AddCommand(newPrepareCommand(flags))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}
