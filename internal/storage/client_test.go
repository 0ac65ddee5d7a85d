package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roamio/roamio/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := config.BackendConfig{BaseURL: server.URL, APIKey: "test-key", StorageBucket: "country-images"}
	return NewClient(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListSendsPrefixAndDecodesObjects(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/storage/v1/object/list/country-images", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "france", body["prefix"])
		_, _ = w.Write([]byte(`[{"name":"eiffel.jpg","id":"1"},{"name":"louvre.jpg","id":"2"}]`))
	})

	objects, err := client.List(context.Background(), "france")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Equal(t, "eiffel.jpg", objects[0].Name)
}

func TestListSurfacesBackendFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.List(context.Background(), "france")
	require.Error(t, err)
}

func TestPublicURLIsDerivedWithoutNetwork(t *testing.T) {
	cfg := config.BackendConfig{BaseURL: "https://baas.example.com/", StorageBucket: "country-images"}
	client := NewClient(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	url := client.PublicURL("/france/eiffel.jpg")
	require.Equal(t, "https://baas.example.com/storage/v1/object/public/country-images/france/eiffel.jpg", url)
}

func TestUploadSendsContentTypeAndBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/storage/v1/object/country-images/france/new.jpg", r.URL.Path)
		require.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		require.Equal(t, "true", r.Header.Get("x-upsert"))
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, []byte("jpeg-bytes"), data)
		w.WriteHeader(http.StatusOK)
	})

	err := client.Upload(context.Background(), "france/new.jpg", "image/jpeg", []byte("jpeg-bytes"))
	require.NoError(t, err)
}

func TestUploadReportsFailureStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.Upload(context.Background(), "france/new.jpg", "image/jpeg", nil)
	require.Error(t, err)
}
