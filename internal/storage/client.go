package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roamio/roamio/internal/config"
)

// Object describes one file inside a storage folder.
type Object struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Doer is the minimal HTTP surface the client needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the hosted object-storage API: folder listings, public URL
// derivation, and uploads into the configured bucket.
type Client struct {
	baseURL string
	apiKey  string
	bucket  string
	client  Doer
	logger  *slog.Logger
}

// NewClient builds a storage client from the backend configuration.
func NewClient(cfg config.BackendConfig, client Doer, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeoutDuration()}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		bucket:  cfg.StorageBucket,
		client:  client,
		logger:  logger.With(slog.String("agent", "storage")),
	}
}

// List returns the objects stored under folder in the bucket.
func (c *Client) List(ctx context.Context, folder string) ([]Object, error) {
	payload, err := json.Marshal(map[string]any{
		"prefix": folder,
		"limit":  100,
		"sortBy": map[string]string{"column": "name", "order": "asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: encode list request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/list/%s", c.baseURL, c.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("storage: build list request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", folder, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("storage: read list response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("storage listing failed",
			slog.String("folder", folder),
			slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("storage: list %s: status %d", folder, resp.StatusCode)
	}

	var objects []Object
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("storage: decode listing: %w", err)
	}
	return objects, nil
}

// PublicURL derives the world-readable URL for a stored object path. It is a
// pure string operation; no network call is involved.
func (c *Client) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, strings.TrimLeft(path, "/"))
}

// Upload writes data to path in the bucket, overwriting any existing object.
func (c *Client) Upload(ctx context.Context, path, contentType string, data []byte) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("storage: build upload request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("storage: upload %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
