package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/shpitdev/listing-enricher/internal/config"
	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/internal/enrich/gemini"
	"github.com/shpitdev/listing-enricher/internal/enrich/openai"
	"github.com/shpitdev/listing-enricher/internal/imagefetch"
	"github.com/shpitdev/listing-enricher/internal/logging"
	"github.com/shpitdev/listing-enricher/internal/pipeline"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
	"github.com/shpitdev/listing-enricher/pkg/sheets/local"
)

// loadConfig layers the root flags over the file and environment.
func loadConfig(flags *rootFlags, override func(*config.Config)) (config.Config, error) {
	if v := strings.TrimSpace(flags.localDir); v != "" {
		// Local runs need no spreadsheet id, so the dir must be known before validation.
		if err := os.Setenv("LISTING_LOCAL_DIR", v); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, &core.ConfigError{Field: "logging", Err: err}
	}
	return logger, nil
}

// openStore returns the workbook and the key identifying it for the run lock.
func openStore(ctx context.Context, cfg config.Config) (sheets.Store, string, error) {
	if dir := strings.TrimSpace(cfg.Sheets.LocalDir); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, "", &core.ConfigError{Field: "sheets.local_dir", Err: err}
		}
		l := cfg.Layout
		wb, err := local.Open(abs, l.ListingSheet, l.MemoSheet, l.SettingSheet)
		if err != nil {
			return nil, "", &core.ConfigError{Field: "sheets.local_dir", Err: err}
		}
		return wb, abs, nil
	}
	client, err := sheets.NewClient(ctx, sheets.Config{
		SpreadsheetID:      cfg.Sheets.SpreadsheetID,
		ServiceAccountFile: cfg.Sheets.ServiceAccountFile,
		Endpoint:           cfg.Sheets.Endpoint,
	})
	if err != nil {
		return nil, "", err
	}
	return client, cfg.Sheets.SpreadsheetID, nil
}

type backend interface {
	enrich.Enricher
	enrich.Summarizer
}

func newBackend(cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Logger:      logger,
		}), nil
	case config.ProviderGemini:
		return gemini.New(gemini.Config{
			Model:     cfg.LLM.Model,
			BaseURL:   cfg.LLM.BaseURL,
			MaxTokens: cfg.LLM.MaxTokens,
			Logger:    logger,
		}), nil
	default:
		return nil, &core.ConfigError{Field: "llm.provider", Err: fmt.Errorf("unknown provider %q", cfg.LLM.Provider)}
	}
}

func newImageFetcher(cfg config.Config, logger *slog.Logger) (pipeline.ImageFetcher, error) {
	if !cfg.Images.Enabled {
		return nil, nil
	}
	opts := imagefetch.Options{
		HTTPClient: &http.Client{Timeout: cfg.Images.FetchTimeout.Std()},
		MaxSide:    cfg.Images.MaxSide,
		Quality:    cfg.Images.Quality,
		Logger:     logger,
	}
	if cfg.Images.S3.Enabled() {
		getter, err := imagefetch.NewS3Getter(cfg.Images.S3)
		if err != nil {
			return nil, &core.ConfigError{Field: "images.s3", Err: err}
		}
		opts.Objects = getter
	}
	return imagefetch.New(opts), nil
}
