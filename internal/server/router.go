package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roamio/roamio/internal/catalog"
	"github.com/roamio/roamio/internal/settings"
)

const maxUploadBytes = 10 << 20

// ImageCatalog is the surface the router needs from the catalog service.
type ImageCatalog interface {
	Images(ctx context.Context, country string) []string
	BatchImages(ctx context.Context, countries []string) map[string][]string
	Upload(ctx context.Context, country, filename, contentType string, data []byte) error
}

// ProfileSettings is the surface the router needs from the settings service.
type ProfileSettings interface {
	Get(ctx context.Context, userID string) *settings.Profile
	GetBatch(ctx context.Context, userIDs []string) map[string]settings.Profile
	Update(ctx context.Context, userID string, patch settings.Patch) error
	CheckUsername(ctx context.Context, candidate, excludingUserID string) (bool, error)
}

// Handler exposes the aggregation layer as a JSON API.
type Handler struct {
	catalog  ImageCatalog
	settings ProfileSettings
	logger   *slog.Logger
}

// NewHandler wires the API handler.
func NewHandler(cat ImageCatalog, set ProfileSettings, logger *slog.Logger) *Handler {
	return &Handler{
		catalog:  cat,
		settings: set,
		logger:   logger.With(slog.String("agent", "api")),
	}
}

// Routes mounts every API endpoint on a fresh mux. The /metrics handler is
// mounted by the caller so the registry stays out of this package.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/images/{country}", h.getImages)
	mux.HandleFunc("GET /api/v1/images", h.getBatchImages)
	mux.HandleFunc("POST /api/v1/images/{country}", h.uploadImage)
	mux.HandleFunc("GET /api/v1/profiles/{user}", h.getProfile)
	mux.HandleFunc("GET /api/v1/profiles", h.getBatchProfiles)
	mux.HandleFunc("PATCH /api/v1/profiles/{user}", h.updateProfile)
	mux.HandleFunc("GET /api/v1/username-available", h.usernameAvailable)
	mux.HandleFunc("GET /healthz", h.health)
	return mux
}

func (h *Handler) getImages(w http.ResponseWriter, r *http.Request) {
	country := r.PathValue("country")
	urls := h.catalog.Images(r.Context(), country)
	writeJSON(w, http.StatusOK, map[string]any{
		"country": country,
		"urls":    urls,
	})
}

func (h *Handler) getBatchImages(w http.ResponseWriter, r *http.Request) {
	countries := splitParam(r.URL.Query().Get("countries"))
	if len(countries) == 0 {
		writeError(w, http.StatusBadRequest, "countries query parameter required")
		return
	}
	items := h.catalog.BatchImages(r.Context(), countries)
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	country := r.PathValue("country")
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	err = h.catalog.Upload(r.Context(), country, header.Filename, header.Header.Get("Content-Type"), data)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
	case errors.Is(err, catalog.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, catalog.ErrUnknownCountry):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("image upload failed", slog.String("country", country), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "upload failed")
	}
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	profile := h.settings.Get(r.Context(), userID)
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) getBatchProfiles(w http.ResponseWriter, r *http.Request) {
	ids := splitParam(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids query parameter required")
		return
	}
	items := h.settings.GetBatch(r.Context(), ids)
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	var patch settings.Patch
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch body")
		return
	}

	err := h.settings.Update(r.Context(), userID, patch)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, settings.ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("profile update failed", slog.String("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "update failed")
	}
}

func (h *Handler) usernameAvailable(w http.ResponseWriter, r *http.Request) {
	candidate := r.URL.Query().Get("username")
	if strings.TrimSpace(candidate) == "" {
		writeError(w, http.StatusBadRequest, "username query parameter required")
		return
	}
	excluding := r.URL.Query().Get("exclude")

	available, err := h.settings.CheckUsername(r.Context(), candidate, excluding)
	if err != nil {
		// "Cannot confirm availability" must never be presented as
		// available; the client gets an explicit failure instead.
		h.logger.Error("username check failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "availability check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": available})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
