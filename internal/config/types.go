package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every option the service reads at startup.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Backend  BackendConfig  `koanf:"backend"`
	Cache    CacheConfig    `koanf:"cache"`
	Catalog  CatalogConfig  `koanf:"catalog"`
	Settings SettingsConfig `koanf:"settings"`
}

// ServerConfig collects the bootstrap knobs for the HTTP lifecycle.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// BackendConfig points at the hosted BaaS the service aggregates from: the
// row-store REST endpoint and the storage bucket holding country imagery.
type BackendConfig struct {
	BaseURL        string `koanf:"baseUrl"`
	APIKey         string `koanf:"apiKey"`
	StorageBucket  string `koanf:"storageBucket"`
	RequestTimeout string `koanf:"requestTimeout"`
}

// RequestTimeoutDuration returns the parsed per-request timeout, falling back
// to the default when unset.
func (c BackendConfig) RequestTimeoutDuration() time.Duration {
	return durationOr(c.RequestTimeout, 15*time.Second)
}

// CacheConfig tunes the in-process cache tier and the optional shared valkey
// tier that lets warm snapshots survive restarts.
type CacheConfig struct {
	DefaultTTL string            `koanf:"defaultTtl"`
	Valkey     ValkeyCacheConfig `koanf:"valkey"`
}

// DefaultTTLDuration returns the parsed default entry TTL.
func (c CacheConfig) DefaultTTLDuration() time.Duration {
	return durationOr(c.DefaultTTL, 5*time.Minute)
}

type ValkeyCacheConfig struct {
	Enabled  bool            `koanf:"enabled"`
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      ValkeyTLSConfig `koanf:"tls"`
}

type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// CatalogConfig tunes the country image catalog aggregation. The TTLs and
// batch knobs were tuned empirically upstream, so they stay configurable
// rather than hardcoded.
type CatalogConfig struct {
	TTL          string `koanf:"ttl"`
	BatchSize    int    `koanf:"batchSize"`
	BatchPause   string `koanf:"batchPause"`
	FallbackFile string `koanf:"fallbackFile"`
}

// TTLDuration returns the parsed catalog snapshot TTL.
func (c CatalogConfig) TTLDuration() time.Duration {
	return durationOr(c.TTL, 24*time.Hour)
}

// BatchPauseDuration returns the parsed pause between listing batches.
func (c CatalogConfig) BatchPauseDuration() time.Duration {
	return durationOr(c.BatchPause, 100*time.Millisecond)
}

// SettingsConfig tunes the user profile aggregation.
type SettingsConfig struct {
	TTL               string `koanf:"ttl"`
	UsernameCheckTTL  string `koanf:"usernameCheckTtl"`
	UsernameCheckSize int    `koanf:"usernameCheckSize"`
}

// TTLDuration returns the parsed settings snapshot TTL.
func (c SettingsConfig) TTLDuration() time.Duration {
	return durationOr(c.TTL, 12*time.Hour)
}

// UsernameCheckTTLDuration returns how long a username availability answer
// may be memoized.
func (c SettingsConfig) UsernameCheckTTLDuration() time.Duration {
	return durationOr(c.UsernameCheckTTL, 5*time.Minute)
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: server.listen.port invalid: %d", c.Server.Listen.Port)
	}
	switch strings.ToLower(c.Server.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: server.logging.level unsupported: %s", c.Server.Logging.Level)
	}
	switch strings.ToLower(c.Server.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: server.logging.format unsupported: %s", c.Server.Logging.Format)
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("config: backend.baseUrl required")
	}
	if strings.TrimSpace(c.Backend.StorageBucket) == "" {
		return errors.New("config: backend.storageBucket required")
	}
	if c.Cache.Valkey.Enabled && strings.TrimSpace(c.Cache.Valkey.Address) == "" {
		return errors.New("config: cache.valkey.address required when the valkey tier is enabled")
	}
	if c.Catalog.BatchSize <= 0 {
		return fmt.Errorf("config: catalog.batchSize invalid: %d", c.Catalog.BatchSize)
	}
	if c.Settings.UsernameCheckSize <= 0 {
		return fmt.Errorf("config: settings.usernameCheckSize invalid: %d", c.Settings.UsernameCheckSize)
	}
	for field, value := range map[string]string{
		"backend.requestTimeout":    c.Backend.RequestTimeout,
		"cache.defaultTtl":          c.Cache.DefaultTTL,
		"catalog.ttl":               c.Catalog.TTL,
		"catalog.batchPause":        c.Catalog.BatchPause,
		"settings.ttl":              c.Settings.TTL,
		"settings.usernameCheckTtl": c.Settings.UsernameCheckTTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("config: %s invalid duration %q", field, value)
		}
	}
	return nil
}

// DefaultConfig returns the baseline values the service runs with when the
// operator supplies nothing.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:54321",
			StorageBucket:  "country-images",
			RequestTimeout: "15s",
		},
		Cache: CacheConfig{
			DefaultTTL: "5m",
		},
		Catalog: CatalogConfig{
			TTL:        "24h",
			BatchSize:  5,
			BatchPause: "100ms",
		},
		Settings: SettingsConfig{
			TTL:               "12h",
			UsernameCheckTTL:  "5m",
			UsernameCheckSize: 512,
		},
	}
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
