package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "optionchain/internal/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 400, cfg.Engine.QuoteBatchSize)
	assert.Equal(t, 450, cfg.PrevDay.PrefetchCap)
	assert.Equal(t, 180*time.Second, cfg.PrevDay.Cooldown)
	assert.Equal(t, 90*time.Second, cfg.Intraday.Cooldown)
	assert.Equal(t, 150, cfg.Intraday.ChainSubset)
	assert.Equal(t, HolidayRuleWeekday, cfg.PrevDay.HolidayRule)
	assert.InDelta(t, 0.05, cfg.Engine.RiskFreeRate, 1e-9)
}

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	// Second load finds config.toml and creates the credentials template.
	_, err = Load(dir)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "credentials.toml"))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.PrevDay.Shards)
	assert.Equal(t, filepath.Join(dir, "cache"), cfg.PrevDay.CacheDir)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(configTemplate), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(credentialsTemplate), 0600))

	t.Setenv("KITE_API_KEY", "key123")
	t.Setenv("OPTIONCHAIN_CACHE_DIR", "/tmp/oc-cache")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "key123", cfg.Credentials.Kite.APIKey)
	assert.Equal(t, "/tmp/oc-cache", cfg.PrevDay.CacheDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.HasCredentials())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.Engine.QuoteBatchSize = 0 }},
		{"coverage above one", func(c *Config) { c.PrevDay.CoverageThreshold = 1.5 }},
		{"unknown holiday rule", func(c *Config) { c.PrevDay.HolidayRule = "lunar" }},
		{"bad holiday date", func(c *Config) { c.PrevDay.Holidays = []string{"26/01/2026"} }},
		{"zero historical rate", func(c *Config) { c.Historical.RatePerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}

func TestHolidayDates(t *testing.T) {
	cfg := Default()
	cfg.PrevDay.Holidays = []string{"2026-01-26", " 2026-03-04 "}

	dates, err := cfg.HolidayDates()
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, time.January, dates[0].Month())
	assert.Equal(t, 4, dates[1].Day())
}
