package api

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/viora/downloader/internal/download"
	apperrors "github.com/viora/downloader/internal/errors"
)

// File handles GET /api/tasks/{id}/file. It serves the output of a DONE
// task with Range support so players can seek.
func (h *TaskHandlers) File(w http.ResponseWriter, r *http.Request) error {
	id, err := taskID(r)
	if err != nil {
		return err
	}
	snap, err := h.svc.Get(id)
	if err != nil {
		return toAppError(err, id, "")
	}
	if snap.Status != download.StatusDone || snap.OutputPath == "" {
		return apperrors.Conflict("task has no finished output").
			WithDetails(map[string]any{"status": string(snap.Status)})
	}

	f, err := os.Open(snap.OutputPath)
	if errors.Is(err, os.ErrNotExist) {
		return apperrors.NotFound("output file")
	}
	if err != nil {
		return apperrors.StorageError("failed to open output file").WithCause(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperrors.StorageError("failed to stat output file").WithCause(err)
	}

	name := filepath.Base(snap.OutputPath)
	w.Header().Set("Content-Disposition", `attachment; filename*=UTF-8''`+url.PathEscape(name))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeContent(w, r, name, info.ModTime(), f)
	return nil
}
