package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roamio/roamio/internal/config"
)

// Shared is an optional valkey-backed tier for global snapshots, so a warm
// envelope survives process restarts. Values are msgpack-encoded. A nil
// *Shared is a valid no-op tier.
type Shared struct {
	client valkey.Client
}

// NewShared connects and pings the configured valkey server.
func NewShared(cfg config.ValkeyCacheConfig) (*Shared, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &Shared{client: client}, nil
}

// Fetch decodes the value stored under key into dest. A missing key is a
// plain miss, not an error.
func (s *Shared) Fetch(ctx context.Context, key string, dest any) (bool, error) {
	if s == nil {
		return false, nil
	}
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	if err := msgpack.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("cache: valkey unmarshal: %w", err)
	}
	return true, nil
}

// Put stores value under key for ttl. Non-positive TTLs are dropped rather
// than stored forever.
func (s *Shared) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s == nil || ttl <= 0 {
		return nil
	}
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: valkey marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(key).Value(valkey.BinaryString(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

// Delete removes the value stored under key.
func (s *Shared) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("cache: valkey del: %w", err)
	}
	return nil
}

// Close releases the valkey connection.
func (s *Shared) Close() {
	if s == nil {
		return
	}
	s.client.Close()
}
