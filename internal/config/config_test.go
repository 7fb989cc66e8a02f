package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "bittensor", cfg.Asset)
	assert.Equal(t, "usd", cfg.VsCurrency)
	assert.Equal(t, "price_data.json", cfg.DataFile)
	assert.Equal(t, 2, cfg.RateLimitPerSec)

	start, err := cfg.FallbackStartTime()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, start.Location())
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricehist.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"asset": "ethereum",
		"data_file": "eth.json",
		"rate_limit_per_sec": 5
	}`), 0o644))

	t.Setenv("PRICEHIST_ASSET", "solana")
	t.Setenv(EnvAPIKey, "CG-test-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "solana", cfg.Asset, "environment overrides the config file")
	assert.Equal(t, "eth.json", cfg.DataFile, "file overrides defaults")
	assert.Equal(t, 5, cfg.RateLimitPerSec)
	assert.Equal(t, "CG-test-key", cfg.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "CG-test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, "bittensor", cfg.Asset)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricehist.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateMissingAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")

	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty asset", func(c *Config) { c.Asset = "" }},
		{"empty currency", func(c *Config) { c.VsCurrency = "" }},
		{"empty data file", func(c *Config) { c.DataFile = "" }},
		{"bad fallback date", func(c *Config) { c.FallbackStart = "March 1st" }},
		{"bad timeout", func(c *Config) { c.RequestTimeout = "soon" }},
		{"zero rate limit", func(c *Config) { c.RateLimitPerSec = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.APIKey = "CG-test-key"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
