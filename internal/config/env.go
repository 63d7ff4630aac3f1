package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "LISTING_"

func (c *Config) applyEnv() error {
	envString("SPREADSHEET_ID", &c.Sheets.SpreadsheetID)
	envString("SERVICE_ACCOUNT_FILE", &c.Sheets.ServiceAccountFile)
	envString("SHEETS_ENDPOINT", &c.Sheets.Endpoint)
	envString("LOCAL_DIR", &c.Sheets.LocalDir)

	envString("PROVIDER", &c.LLM.Provider)
	envString("MODEL", &c.LLM.Model)
	envString("BASE_URL", &c.LLM.BaseURL)
	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
	envString("LOCK_DIR", &c.Pipeline.LockDir)

	envString("S3_ENDPOINT", &c.Images.S3.Endpoint)
	envString("S3_ACCESS_KEY", &c.Images.S3.AccessKey)
	envString("S3_SECRET_KEY", &c.Images.S3.SecretKey)
	envString("S3_REGION", &c.Images.S3.Region)

	var err error
	if c.LLM.MaxTokens, err = envInt("MAX_TOKENS", c.LLM.MaxTokens); err != nil {
		return err
	}
	if c.LLM.Temperature, err = envFloat("TEMPERATURE", c.LLM.Temperature); err != nil {
		return err
	}
	if c.LLM.Summarize, err = envBool("SUMMARIZE", c.LLM.Summarize); err != nil {
		return err
	}
	if c.Pipeline.Workers, err = envInt("WORKERS", c.Pipeline.Workers); err != nil {
		return err
	}
	if c.Pipeline.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", c.Pipeline.RateLimitRPS); err != nil {
		return err
	}
	if c.Pipeline.BatchSize, err = envInt("BATCH_SIZE", c.Pipeline.BatchSize); err != nil {
		return err
	}
	if c.Pipeline.Retry.MaxAttempts, err = envInt("MAX_ATTEMPTS", c.Pipeline.Retry.MaxAttempts); err != nil {
		return err
	}
	if err := envDuration("REQUEST_TIMEOUT", &c.Pipeline.RequestTimeout); err != nil {
		return err
	}
	if err := envDuration("RETRY_BASE_DELAY", &c.Pipeline.Retry.BaseDelay); err != nil {
		return err
	}
	if err := envDuration("IMAGE_FETCH_TIMEOUT", &c.Images.FetchTimeout); err != nil {
		return err
	}
	if c.Images.Enabled, err = envBool("IMAGES", c.Images.Enabled); err != nil {
		return err
	}
	if c.Images.S3.UseSSL, err = envBool("S3_USE_SSL", c.Images.S3.UseSSL); err != nil {
		return err
	}
	return nil
}

func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + name))
	return v, v != ""
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envInt(name string, fallback int) (int, error) {
	v, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, v, err)
	}
	return out, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	v, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, v, err)
	}
	return out, nil
}

func envDuration(name string, dst *Duration) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, v, err)
	}
	*dst = Duration(out)
	return nil
}

func envBool(name string, fallback bool) (bool, error) {
	v, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, v, err)
	}
	return out, nil
}
