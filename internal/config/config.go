// Package config loads run settings from defaults, an optional YAML or TOML
// file and LISTING_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/listing-enricher/internal/imagefetch"
	"github.com/shpitdev/listing-enricher/internal/layout"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/retry"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Sheets selects the workbook.
type Sheets struct {
	SpreadsheetID      string `yaml:"spreadsheet_id" toml:"spreadsheet_id"`
	ServiceAccountFile string `yaml:"service_account_file" toml:"service_account_file"`
	// Endpoint overrides the Sheets API base URL (mock server).
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	// LocalDir replaces Google Sheets with a directory of CSV files.
	LocalDir string `yaml:"local_dir" toml:"local_dir"`
}

// LLM selects the model backend.
type LLM struct {
	Provider    string  `yaml:"provider" toml:"provider"`
	Model       string  `yaml:"model" toml:"model"`
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Summarize   bool    `yaml:"summarize" toml:"summarize"`
}

// Backoff is the tunable part of a retry policy.
type Backoff struct {
	MaxAttempts int      `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay" toml:"base_delay"`
}

// Pipeline controls concurrency, retries and write-back batching.
type Pipeline struct {
	Workers        int      `yaml:"workers" toml:"workers"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" toml:"rate_limit_rps"`
	Retry          Backoff  `yaml:"retry" toml:"retry"`
	WriteRetry     Backoff  `yaml:"write_retry" toml:"write_retry"`
	BatchSize      int      `yaml:"batch_size" toml:"batch_size"`
	LockDir        string   `yaml:"lock_dir" toml:"lock_dir"`
}

// Images controls reference image loading.
type Images struct {
	Enabled      bool                `yaml:"enabled" toml:"enabled"`
	MaxSide      int                 `yaml:"max_side" toml:"max_side"`
	Quality      int                 `yaml:"quality" toml:"quality"`
	FetchTimeout Duration            `yaml:"fetch_timeout" toml:"fetch_timeout"`
	S3           imagefetch.S3Config `yaml:"s3" toml:"s3"`
}

type Logging struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type Config struct {
	Sheets   Sheets        `yaml:"sheets" toml:"sheets"`
	Layout   layout.Layout `yaml:"layout" toml:"layout"`
	LLM      LLM           `yaml:"llm" toml:"llm"`
	Pipeline Pipeline      `yaml:"pipeline" toml:"pipeline"`
	Images   Images        `yaml:"images" toml:"images"`
	Logging  Logging       `yaml:"logging" toml:"logging"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Layout: layout.Default(),
		LLM: LLM{
			Provider:  ProviderOpenAI,
			MaxTokens: 4000,
		},
		Pipeline: Pipeline{
			Workers:        3,
			RequestTimeout: Duration(2 * time.Minute),
			Retry:          Backoff{MaxAttempts: 5, BaseDelay: Duration(10 * time.Second)},
			WriteRetry:     Backoff{MaxAttempts: 5, BaseDelay: Duration(10 * time.Second)},
			BatchSize:      20,
			LockDir:        filepath.Join(os.TempDir(), "listing-enricher"),
		},
		Images: Images{
			Enabled:      true,
			MaxSide:      imagefetch.DefaultMaxSide,
			Quality:      imagefetch.DefaultQuality,
			FetchTimeout: Duration(30 * time.Second),
		},
		Logging: Logging{Level: "info", Format: "auto"},
	}
}

// Load applies the file at path (when non-empty) and the environment on top
// of Default, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, &core.ConfigError{Field: "env", Err: err}
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Layout = cfg.Layout.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return &core.ConfigError{Field: "config", Err: err}
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return &core.ConfigError{Field: "config", Err: fmt.Errorf("parse %s: %w", filepath.Base(path), err)}
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return &core.ConfigError{Field: "config", Err: fmt.Errorf("parse %s: %w", filepath.Base(path), err)}
		}
	default:
		return &core.ConfigError{Field: "config", Err: fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .toml)", ext)}
	}
	return nil
}

// EnrichmentPolicy is retry.Enrichment with the configured attempts and base delay.
func (c Config) EnrichmentPolicy() retry.Policy {
	p := retry.Enrichment()
	c.Pipeline.Retry.apply(&p)
	return p
}

// WritePolicy is retry.StoreWrite with the configured attempts and base delay.
func (c Config) WritePolicy() retry.Policy {
	p := retry.StoreWrite()
	c.Pipeline.WriteRetry.apply(&p)
	return p
}

func (b Backoff) apply(p *retry.Policy) {
	if b.MaxAttempts > 0 {
		p.MaxAttempts = b.MaxAttempts
	}
	if b.BaseDelay > 0 {
		p.BaseDelay = b.BaseDelay.Std()
	}
}
