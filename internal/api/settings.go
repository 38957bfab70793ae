package api

import (
	"net/http"
	"time"

	"github.com/viora/downloader/internal/config"
	"github.com/viora/downloader/internal/download"
	apperrors "github.com/viora/downloader/internal/errors"
)

type SettingsHandlers struct {
	store      *config.SettingsStore
	svc        *download.Service
	resizeWait time.Duration
}

func NewSettingsHandlers(store *config.SettingsStore, svc *download.Service, resizeWait time.Duration) *SettingsHandlers {
	return &SettingsHandlers{store: store, svc: svc, resizeWait: resizeWait}
}

// Get handles GET /api/settings
func (h *SettingsHandlers) Get(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, r, http.StatusOK, h.store.Settings())
}

// Update handles PUT /api/settings. Fields missing from the body keep their
// current value. A changed concurrent_downloads resizes the worker pool.
func (h *SettingsHandlers) Update(w http.ResponseWriter, r *http.Request) error {
	next := h.store.Settings()
	if err := decodeJSON(w, r, &next); err != nil {
		return err
	}

	prev := h.store.Settings()
	saved, err := h.store.Update(func(s *config.Settings) { *s = next })
	if err != nil {
		return apperrors.InternalError("failed to save settings").WithCause(err)
	}

	if h.svc != nil && saved.ConcurrentDownloads != prev.ConcurrentDownloads {
		if err := resize(r.Context(), h.svc, saved.ConcurrentDownloads, h.resizeWait); err != nil {
			return toAppError(err, 0, "")
		}
	}
	return writeJSON(w, r, http.StatusOK, saved)
}
