// Package config provides configuration loading for the price history
// collector. Values are resolved in priority order: environment variables,
// then an optional JSON config file, then defaults. The CoinGecko API
// credential only ever comes from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvAPIKey is the environment variable holding the CoinGecko credential.
const EnvAPIKey = "COINGECKO_API_KEY"

// ErrMissingAPIKey is returned by Validate when no credential is present.
// It is a pre-flight failure: no network call is attempted and the data
// file is never touched.
var ErrMissingAPIKey = errors.New("missing " + EnvAPIKey + " in environment")

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level    string `json:"level"`     // debug, info, warn, error
	Format   string `json:"format"`    // json, text
	Output   string `json:"output"`    // stdout, stderr, file
	FilePath string `json:"file_path"` // log file path when output is "file"
	MaxSize  int    `json:"max_size"`  // max log file size in MB before rotation
	MaxAge   int    `json:"max_age"`   // max log file age in days
}

// Config holds the full configuration for one collector run.
type Config struct {
	// Asset is the provider's asset identifier (CoinGecko coin id).
	Asset string `json:"asset"`

	// VsCurrency is the fixed reference currency prices are quoted in.
	VsCurrency string `json:"vs_currency"`

	// APIKey is the CoinGecko demo API key. Never read from the config
	// file; populated from the environment only.
	APIKey string `json:"-"`

	// DataFile is the path of the persisted JSON series.
	DataFile string `json:"data_file"`

	// FallbackStart is the incremental-mode window start used when no
	// local data exists, formatted YYYY-MM-DD. It should predate the
	// asset's listing so the first run captures the full history.
	FallbackStart string `json:"fallback_start"`

	// BaseURL overrides the CoinGecko endpoint, used by tests.
	BaseURL string `json:"base_url"`

	// RequestTimeout bounds a single HTTP request, e.g. "30s".
	RequestTimeout string `json:"request_timeout"`

	// RateLimitPerSec caps outgoing requests to the provider.
	RateLimitPerSec int `json:"rate_limit_per_sec"`

	Logging LoggingConfig `json:"logging"`
}

// Default returns the configuration the collector ships with: the
// bittensor asset quoted in USD, matching the series this tool was built
// to maintain.
func Default() *Config {
	return &Config{
		Asset:           "bittensor",
		VsCurrency:      "usd",
		DataFile:        "price_data.json",
		FallbackStart:   "2023-03-01", // predates bittensor's listing
		BaseURL:         "https://api.coingecko.com",
		RequestTimeout:  "30s",
		RateLimitPerSec: 2,
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Output:  "stderr",
			MaxSize: 50,
			MaxAge:  14,
		},
	}
}

// Load resolves the configuration from defaults, an optional JSON file and
// environment overrides. A missing config file is not an error; a present
// but unparseable one is.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides config values from PRICEHIST_* environment variables
// and reads the API credential.
func (c *Config) applyEnv() {
	if val := os.Getenv("PRICEHIST_ASSET"); val != "" {
		c.Asset = val
	}
	if val := os.Getenv("PRICEHIST_VS_CURRENCY"); val != "" {
		c.VsCurrency = val
	}
	if val := os.Getenv("PRICEHIST_DATA_FILE"); val != "" {
		c.DataFile = val
	}
	if val := os.Getenv("PRICEHIST_FALLBACK_START"); val != "" {
		c.FallbackStart = val
	}
	if val := os.Getenv("PRICEHIST_BASE_URL"); val != "" {
		c.BaseURL = val
	}
	if val := os.Getenv("PRICEHIST_REQUEST_TIMEOUT"); val != "" {
		c.RequestTimeout = val
	}
	if val := os.Getenv("PRICEHIST_RATE_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.RateLimitPerSec = n
		}
	}
	if val := os.Getenv("PRICEHIST_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("PRICEHIST_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
	if val := os.Getenv("PRICEHIST_LOG_OUTPUT"); val != "" {
		c.Logging.Output = val
	}
	if val := os.Getenv("PRICEHIST_LOG_FILE"); val != "" {
		c.Logging.FilePath = val
	}

	c.APIKey = os.Getenv(EnvAPIKey)
}

// Validate checks the configuration for consistency and the presence of
// the API credential. Called before any network or file activity.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Asset == "" {
		return errors.New("asset is required")
	}
	if c.VsCurrency == "" {
		return errors.New("vs_currency is required")
	}
	if c.DataFile == "" {
		return errors.New("data_file is required")
	}
	if _, err := c.FallbackStartTime(); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.RequestTimeout); err != nil {
		return fmt.Errorf("request_timeout is not a valid duration: %w", err)
	}
	if c.RateLimitPerSec <= 0 {
		return errors.New("rate_limit_per_sec must be greater than 0")
	}
	return nil
}

// FallbackStartTime parses FallbackStart as a UTC date.
func (c *Config) FallbackStartTime() (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", c.FallbackStart, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("fallback_start is not a valid YYYY-MM-DD date: %w", err)
	}
	return t, nil
}

// Timeout returns RequestTimeout as a duration, falling back to 30s if it
// was never validated.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
