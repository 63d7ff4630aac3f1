package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
)

// Validate ensures the configuration is usable. Failures are ConfigErrors.
func (c Config) Validate() error {
	if err := c.validateSheets(); err != nil {
		return err
	}
	if err := c.Layout.Validate(); err != nil {
		return &core.ConfigError{Field: "layout", Err: err}
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateImages(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c Config) validateSheets() error {
	if strings.TrimSpace(c.Sheets.LocalDir) != "" {
		return nil
	}
	if strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
		return &core.ConfigError{Field: "sheets.spreadsheet_id", Err: errors.New("is required unless sheets.local_dir is set")}
	}
	if strings.TrimSpace(c.Sheets.ServiceAccountFile) == "" && strings.TrimSpace(c.Sheets.Endpoint) == "" {
		return &core.ConfigError{Field: "sheets.service_account_file", Err: errors.New("is required")}
	}
	return nil
}

func (c Config) validateLLM() error {
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case ProviderOpenAI, ProviderGemini:
	default:
		return &core.ConfigError{Field: "llm.provider", Err: fmt.Errorf("must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.LLM.Provider)}
	}
	if c.LLM.MaxTokens < 0 {
		return &core.ConfigError{Field: "llm.max_tokens", Err: errors.New("must not be negative")}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return &core.ConfigError{Field: "llm.temperature", Err: errors.New("must be between 0 and 2")}
	}
	return nil
}

func (c Config) validatePipeline() error {
	p := c.Pipeline
	switch {
	case p.Workers < 1:
		return &core.ConfigError{Field: "pipeline.workers", Err: errors.New("must be at least 1")}
	case p.RequestTimeout < 0:
		return &core.ConfigError{Field: "pipeline.request_timeout", Err: errors.New("must not be negative")}
	case p.RateLimitRPS < 0:
		return &core.ConfigError{Field: "pipeline.rate_limit_rps", Err: errors.New("must not be negative")}
	case p.BatchSize < 1:
		return &core.ConfigError{Field: "pipeline.batch_size", Err: errors.New("must be at least 1")}
	case p.Retry.MaxAttempts < 1:
		return &core.ConfigError{Field: "pipeline.retry.max_attempts", Err: errors.New("must be at least 1")}
	case p.WriteRetry.MaxAttempts < 1:
		return &core.ConfigError{Field: "pipeline.write_retry.max_attempts", Err: errors.New("must be at least 1")}
	case p.Retry.BaseDelay < 0 || p.WriteRetry.BaseDelay < 0:
		return &core.ConfigError{Field: "pipeline.retry.base_delay", Err: errors.New("must not be negative")}
	}
	return nil
}

func (c Config) validateImages() error {
	if c.Images.MaxSide < 1 {
		return &core.ConfigError{Field: "images.max_side", Err: errors.New("must be at least 1")}
	}
	if c.Images.Quality < 1 || c.Images.Quality > 100 {
		return &core.ConfigError{Field: "images.quality", Err: errors.New("must be between 1 and 100")}
	}
	if c.Images.S3.Enabled() {
		if err := c.Images.S3.Validate(); err != nil {
			return &core.ConfigError{Field: "images.s3", Err: err}
		}
	}
	return nil
}

func (c Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &core.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "auto", "text", "json":
	default:
		return &core.ConfigError{Field: "logging.format", Err: fmt.Errorf("unknown format %q", c.Logging.Format)}
	}
	return nil
}
