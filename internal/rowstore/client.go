package rowstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/roamio/roamio/internal/config"
)

// ErrNoRows marks a single-row query that matched nothing. Callers branch on
// it instead of inspecting status codes.
var ErrNoRows = errors.New("rowstore: no rows")

// Error is the structured failure a row-store call surfaces: the HTTP status
// the backend answered with plus whatever message it carried.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rowstore: status %d: %s", e.Status, e.Message)
}

// Doer is the minimal HTTP surface the client needs, so tests can substitute
// transports.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client issues REST queries against the hosted row store (a PostgREST-style
// API fronting the relational tables).
type Client struct {
	baseURL string
	apiKey  string
	client  Doer
	logger  *slog.Logger
}

// NewClient builds a row-store client from the backend configuration.
func NewClient(cfg config.BackendConfig, client Doer, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeoutDuration()}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger.With(slog.String("agent", "rowstore")),
	}
}

// Select fetches every row matching query from table and decodes the JSON
// array into dest.
func (c *Client) Select(ctx context.Context, table string, query url.Values, dest any) error {
	body, err := c.do(ctx, http.MethodGet, table, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("rowstore: decode %s rows: %w", table, err)
	}
	return nil
}

// SelectOne fetches at most one row matching query and decodes it into dest.
// Zero matches surface as ErrNoRows.
func (c *Client) SelectOne(ctx context.Context, table string, query url.Values, dest any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", "1")
	body, err := c.do(ctx, http.MethodGet, table, query, nil)
	if err != nil {
		return err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return fmt.Errorf("rowstore: decode %s rows: %w", table, err)
	}
	if len(rows) == 0 {
		return ErrNoRows
	}
	if err := json.Unmarshal(rows[0], dest); err != nil {
		return fmt.Errorf("rowstore: decode %s row: %w", table, err)
	}
	return nil
}

// Insert creates a row in table from payload.
func (c *Client) Insert(ctx context.Context, table string, payload any) error {
	_, err := c.do(ctx, http.MethodPost, table, nil, payload)
	return err
}

// Patch applies payload to every row matching query.
func (c *Client) Patch(ctx context.Context, table string, query url.Values, payload any) error {
	_, err := c.do(ctx, http.MethodPatch, table, query, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, payload any) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("rowstore: encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("rowstore: build request: %w", err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rowstore: %s %s: %w", method, table, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("rowstore: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("row store call failed",
			slog.String("table", table),
			slog.String("method", method),
			slog.Int("status", resp.StatusCode))
		return nil, &Error{Status: resp.StatusCode, Message: snippet(data)}
	}
	return data, nil
}

func snippet(data []byte) string {
	const max = 256
	text := strings.TrimSpace(string(data))
	if len(text) > max {
		return text[:max]
	}
	return text
}
