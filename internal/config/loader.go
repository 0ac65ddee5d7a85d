package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective configuration snapshot.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"backend.baseurl":            "backend.baseUrl",
			"backend.apikey":             "backend.apiKey",
			"backend.storagebucket":      "backend.storageBucket",
			"backend.requesttimeout":     "backend.requestTimeout",
			"cache.defaultttl":           "cache.defaultTtl",
			"cache.valkey.tls.cafile":    "cache.valkey.tls.caFile",
			"catalog.batchpause":         "catalog.batchPause",
			"catalog.batchsize":          "catalog.batchSize",
			"catalog.fallbackfile":       "catalog.fallbackFile",
			"settings.usernamecheckttl":  "settings.usernameCheckTtl",
			"settings.usernamechecksize": "settings.usernameCheckSize",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (CATALOG__BATCH_SIZE -> catalog.batchsize).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(strings.ReplaceAll(key, "_", ""))
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension on %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"backend": map[string]any{
			"baseUrl":        cfg.Backend.BaseURL,
			"apiKey":         cfg.Backend.APIKey,
			"storageBucket":  cfg.Backend.StorageBucket,
			"requestTimeout": cfg.Backend.RequestTimeout,
		},
		"cache": map[string]any{
			"defaultTtl": cfg.Cache.DefaultTTL,
			"valkey": map[string]any{
				"enabled":  cfg.Cache.Valkey.Enabled,
				"address":  cfg.Cache.Valkey.Address,
				"username": cfg.Cache.Valkey.Username,
				"password": cfg.Cache.Valkey.Password,
				"db":       cfg.Cache.Valkey.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Valkey.TLS.Enabled,
					"caFile":  cfg.Cache.Valkey.TLS.CAFile,
				},
			},
		},
		"catalog": map[string]any{
			"ttl":          cfg.Catalog.TTL,
			"batchSize":    cfg.Catalog.BatchSize,
			"batchPause":   cfg.Catalog.BatchPause,
			"fallbackFile": cfg.Catalog.FallbackFile,
		},
		"settings": map[string]any{
			"ttl":               cfg.Settings.TTL,
			"usernameCheckTtl":  cfg.Settings.UsernameCheckTTL,
			"usernameCheckSize": cfg.Settings.UsernameCheckSize,
		},
	}
}
