package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("").Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	require.Equal(t, 8080, cfg.Server.Listen.Port)
	require.Equal(t, "info", cfg.Server.Logging.Level)
	require.Equal(t, 5, cfg.Catalog.BatchSize)
	require.Equal(t, 24*time.Hour, cfg.Catalog.TTLDuration())
	require.Equal(t, 12*time.Hour, cfg.Settings.TTLDuration())
	require.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTLDuration())
	require.Equal(t, 100*time.Millisecond, cfg.Catalog.BatchPauseDuration())
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	payload := `
server:
  listen:
    port: 9000
catalog:
  ttl: 1h
  batchSize: 3
backend:
  baseUrl: https://baas.example.com
  storageBucket: trip-images
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cfg, err := NewLoader("", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Listen.Port)
	require.Equal(t, time.Hour, cfg.Catalog.TTLDuration())
	require.Equal(t, 3, cfg.Catalog.BatchSize)
	require.Equal(t, "https://baas.example.com", cfg.Backend.BaseURL)
	require.Equal(t, "trip-images", cfg.Backend.StorageBucket)
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	payload := `
[server.listen]
port = 7000

[settings]
ttl = "6h"
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cfg, err := NewLoader("", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Listen.Port)
	require.Equal(t, 6*time.Hour, cfg.Settings.TTLDuration())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9000\n"), 0o600))

	t.Setenv("ROAMIO_SERVER__LISTEN__PORT", "9100")
	t.Setenv("ROAMIO_BACKEND__BASE_URL", "https://env.example.com")
	t.Setenv("ROAMIO_CATALOG__BATCH_SIZE", "2")

	cfg, err := NewLoader("ROAMIO", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Server.Listen.Port)
	require.Equal(t, "https://env.example.com", cfg.Backend.BaseURL)
	require.Equal(t, 2, cfg.Catalog.BatchSize)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := NewLoader("", filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o600))

	_, err := NewLoader("", path).Load(context.Background())
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"bad port":            func(c *Config) { c.Server.Listen.Port = -1 },
		"bad log level":       func(c *Config) { c.Server.Logging.Level = "verbose" },
		"bad log format":      func(c *Config) { c.Server.Logging.Format = "binary" },
		"missing base url":    func(c *Config) { c.Backend.BaseURL = "" },
		"missing bucket":      func(c *Config) { c.Backend.StorageBucket = "" },
		"valkey sans address": func(c *Config) { c.Cache.Valkey.Enabled = true },
		"bad batch size":      func(c *Config) { c.Catalog.BatchSize = 0 },
		"bad duration":        func(c *Config) { c.Catalog.TTL = "soon" },
		"bad memo size":       func(c *Config) { c.Settings.UsernameCheckSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDurationGettersFallBackOnGarbage(t *testing.T) {
	cfg := CatalogConfig{TTL: "not-a-duration", BatchPause: ""}
	require.Equal(t, 24*time.Hour, cfg.TTLDuration())
	require.Equal(t, 100*time.Millisecond, cfg.BatchPauseDuration())
}
