package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/apperrors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5.0, cfg.Scraper.Rate)
	assert.Equal(t, 10, cfg.Scraper.Burst)
	assert.Equal(t, 3, cfg.Scraper.MaxRetries)
	assert.Equal(t, 3, cfg.Scraper.EmptyPageLimit)
	assert.Equal(t, 15*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, "safe", cfg.Pipeline.LoadMode)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  driver: postgres
  dsn: postgres://localhost/anime_db
scraper:
  rate: 2.5
  backoff:
    mode: fixed
    base: 5s
pipeline:
  load_mode: bulk
`
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o644))
	t.Setenv("ANIMEHUB_SCRAPER_BURST", "4")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 2.5, cfg.Scraper.Rate)
	assert.Equal(t, 4, cfg.Scraper.Burst)
	assert.Equal(t, "fixed", cfg.Scraper.Backoff.Mode)
	assert.Equal(t, 5*time.Second, cfg.Scraper.Backoff.Base)
	assert.Equal(t, "bulk", cfg.Pipeline.LoadMode)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }},
		{"zero rate", func(c *Config) { c.Scraper.Rate = 0 }},
		{"zero burst", func(c *Config) { c.Scraper.Burst = 0 }},
		{"negative retries", func(c *Config) { c.Scraper.MaxRetries = -1 }},
		{"bad backoff", func(c *Config) { c.Scraper.Backoff.Mode = "random" }},
		{"bad load mode", func(c *Config) { c.Pipeline.LoadMode = "turbo" }},
		{"bad error policy", func(c *Config) { c.Pipeline.OnError = "ignore" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
		})
	}
}
