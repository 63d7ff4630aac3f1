package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/shpitdev/listing-enricher/internal/app"
	"github.com/shpitdev/listing-enricher/internal/config"
	"github.com/shpitdev/listing-enricher/internal/logging"
	"github.com/shpitdev/listing-enricher/internal/pipeline"
)

type enrichFlags struct {
	workers      int
	provider     string
	model        string
	summarize    bool
	rateLimitRPS float64
	noProgress   bool
}

func newEnrichCommand(root *rootFlags) *cobra.Command {
	flags := &enrichFlags{}

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich every AI-memo row and write the results back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, func(c *config.Config) {
				f := cmd.Flags()
				if f.Changed("workers") {
					c.Pipeline.Workers = flags.workers
				}
				if f.Changed("provider") {
					c.LLM.Provider = strings.ToLower(strings.TrimSpace(flags.provider))
				}
				if f.Changed("model") {
					c.LLM.Model = flags.model
				}
				if f.Changed("summarize") {
					c.LLM.Summarize = flags.summarize
				}
				if f.Changed("rate-limit-rps") {
					c.Pipeline.RateLimitRPS = flags.rateLimitRPS
				}
			})
			if err != nil {
				return err
			}
			return runEnrich(cmd, cfg, flags.noProgress)
		},
	}

	f := cmd.Flags()
	f.IntVar(&flags.workers, "workers", 0, "Concurrent enrichment requests (env: LISTING_WORKERS)")
	f.StringVar(&flags.provider, "provider", "", "Model backend: openai or gemini (env: LISTING_PROVIDER)")
	f.StringVar(&flags.model, "model", "", "Model name (env: LISTING_MODEL)")
	f.BoolVar(&flags.summarize, "summarize", false, "Summarize descriptions before enriching (env: LISTING_SUMMARIZE)")
	f.Float64Var(&flags.rateLimitRPS, "rate-limit-rps", 0, "Cap on request starts per second, 0 for none (env: LISTING_RATE_LIMIT_RPS)")
	f.BoolVar(&flags.noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

func runEnrich(cmd *cobra.Command, cfg config.Config, noProgress bool) error {
	ctx := cmd.Context()
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	store, lockKey, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	be, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	fetcher, err := newImageFetcher(cfg, logger)
	if err != nil {
		return err
	}

	opts := app.Options{
		Layout:         cfg.Layout,
		Workers:        cfg.Pipeline.Workers,
		RequestTimeout: cfg.Pipeline.RequestTimeout.Std(),
		RateLimitRPS:   cfg.Pipeline.RateLimitRPS,
		Retry:          cfg.EnrichmentPolicy(),
		WriteRetry:     cfg.WritePolicy(),
		BatchSize:      cfg.Pipeline.BatchSize,
		Summarize:      cfg.LLM.Summarize,
		LockDir:        cfg.Pipeline.LockDir,
		LockKey:        lockKey,
	}

	var bar *progressbar.ProgressBar
	if !noProgress && logging.IsTerminal(os.Stderr) {
		opts.OnStart = func(rows int) {
			bar = progressbar.NewOptions(rows,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("enriching"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		opts.OnRow = func(pipeline.Outcome) {
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}

	rep, err := app.Run(ctx, app.Deps{
		Store:      store,
		Enricher:   be,
		Summarizer: be,
		Images:     fetcher,
		Logger:     logger,
	}, opts)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	renderTable(cmd.OutOrStdout(), []string{"Run", "Rows", "Enriched", "Absent", "Skipped", "Summarized", "Cells", "Failed batches", "Duration"},
		[][]any{{
			rep.RunID, rep.Rows, rep.Enriched, rep.Absent, rep.Skipped, rep.Summarized,
			rep.Write.WrittenOps, rep.FailedBatches(), humanDuration(rep.Duration),
		}})
	if n := rep.FailedBatches(); n > 0 {
		return fmt.Errorf("%d of %d write batches failed", n, rep.Write.Batches)
	}
	return nil
}
