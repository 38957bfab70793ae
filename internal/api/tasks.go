package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/viora/downloader/internal/download"
	apperrors "github.com/viora/downloader/internal/errors"
	"github.com/viora/downloader/internal/fetch"
	"github.com/viora/downloader/internal/history"
	"github.com/viora/downloader/internal/playlist"
	"github.com/viora/downloader/internal/validators"
)

// maxBatchSize bounds a single batch enqueue.
const maxBatchSize = 500

type TaskHandlers struct {
	svc        *download.Service
	expander   *playlist.Expander
	resizeWait time.Duration
}

func NewTaskHandlers(svc *download.Service, expander *playlist.Expander, resizeWait time.Duration) *TaskHandlers {
	return &TaskHandlers{svc: svc, expander: expander, resizeWait: resizeWait}
}

// EnqueueRequest is the body of POST /api/tasks and POST /api/tasks/playlist.
type EnqueueRequest struct {
	URL       string `json:"url"`
	AudioOnly bool   `json:"audio_only"`
	Format    string `json:"format,omitempty"`
}

type EnqueueResponse struct {
	ID     int64           `json:"id"`
	Status download.Status `json:"status"`
}

type BatchRequest struct {
	Items []download.BatchItem `json:"items"`
}

type ListResponse struct {
	Tasks    []download.TaskSnapshot `json:"tasks"`
	Counts   map[download.Status]int `json:"counts"`
	Workers  int                     `json:"workers"`
	QueueLen int                     `json:"queue_len"`
}

type CountResponse struct {
	Affected int `json:"affected"`
}

// Enqueue handles POST /api/tasks
func (h *TaskHandlers) Enqueue(w http.ResponseWriter, r *http.Request) error {
	var req EnqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.URL) == "" {
		return apperrors.ValidationError("url is required")
	}

	id, err := h.svc.Enqueue(r.Context(), req.URL, req.AudioOnly, req.Format)
	if err != nil {
		return toAppError(err, 0, req.URL)
	}
	snap, err := h.svc.Get(id)
	if err != nil {
		return toAppError(err, id, req.URL)
	}
	return writeJSON(w, r, http.StatusCreated, EnqueueResponse{ID: id, Status: snap.Status})
}

// EnqueueBatch handles POST /api/tasks/batch
func (h *TaskHandlers) EnqueueBatch(w http.ResponseWriter, r *http.Request) error {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if len(req.Items) == 0 {
		return apperrors.ValidationError("items must not be empty")
	}
	if len(req.Items) > maxBatchSize {
		return apperrors.ValidationError("too many items").
			WithDetails(map[string]any{"max": maxBatchSize})
	}

	res, err := h.svc.EnqueueBatch(r.Context(), req.Items)
	if err != nil {
		return toAppError(err, 0, "")
	}
	return writeJSON(w, r, http.StatusCreated, res)
}

// EnqueuePlaylist handles POST /api/tasks/playlist
func (h *TaskHandlers) EnqueuePlaylist(w http.ResponseWriter, r *http.Request) error {
	var req EnqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if h.expander == nil {
		return apperrors.UnsupportedSource("playlist")
	}

	res, err := h.svc.EnqueuePlaylist(r.Context(), req.URL, req.AudioOnly, req.Format)
	if err != nil {
		return toAppError(err, 0, req.URL)
	}
	return writeJSON(w, r, http.StatusCreated, res)
}

// PlaylistEntries handles GET /api/playlist?url=
func (h *TaskHandlers) PlaylistEntries(w http.ResponseWriter, r *http.Request) error {
	if h.expander == nil {
		return apperrors.UnsupportedSource("playlist")
	}
	url := r.URL.Query().Get("url")
	if !validators.IsValidURL(url) {
		return apperrors.InvalidURL(url)
	}
	entries, err := h.expander.Entries(r.Context(), url)
	switch {
	case errors.Is(err, playlist.ErrNotPlaylist):
		return apperrors.ValidationError("url is not a playlist")
	case err != nil:
		return apperrors.FetchError("failed to list playlist").WithCause(err)
	}
	if entries == nil {
		entries = []playlist.Entry{}
	}
	return writeJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

// List handles GET /api/tasks
func (h *TaskHandlers) List(w http.ResponseWriter, r *http.Request) error {
	tasks := h.svc.List()
	if status := r.URL.Query().Get("status"); status != "" {
		want := download.Status(strings.ToUpper(status))
		if !want.Valid() {
			return apperrors.ValidationError("unknown status").
				WithDetails(map[string]any{"status": status})
		}
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Status == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	qlen, err := h.svc.QueueLen(r.Context())
	if err != nil {
		return toAppError(err, 0, "")
	}
	return writeJSON(w, r, http.StatusOK, ListResponse{
		Tasks:    tasks,
		Counts:   h.svc.Counts(),
		Workers:  h.svc.Workers(),
		QueueLen: qlen,
	})
}

// Get handles GET /api/tasks/{id}
func (h *TaskHandlers) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := taskID(r)
	if err != nil {
		return err
	}
	snap, err := h.svc.Get(id)
	if err != nil {
		return toAppError(err, id, "")
	}
	return writeJSON(w, r, http.StatusOK, snap)
}

// Remove handles DELETE /api/tasks/{id}
func (h *TaskHandlers) Remove(w http.ResponseWriter, r *http.Request) error {
	id, err := taskID(r)
	if err != nil {
		return err
	}
	if err := h.svc.Remove(id); err != nil {
		return toAppError(err, id, "")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Cancel handles POST /api/tasks/{id}/cancel
func (h *TaskHandlers) Cancel(w http.ResponseWriter, r *http.Request) error {
	return h.act(w, r, h.svc.Cancel)
}

// Pause handles POST /api/tasks/{id}/pause
func (h *TaskHandlers) Pause(w http.ResponseWriter, r *http.Request) error {
	return h.act(w, r, h.svc.Pause)
}

// Resume handles POST /api/tasks/{id}/resume
func (h *TaskHandlers) Resume(w http.ResponseWriter, r *http.Request) error {
	return h.act(w, r, h.svc.Resume)
}

// Retry handles POST /api/tasks/{id}/retry
func (h *TaskHandlers) Retry(w http.ResponseWriter, r *http.Request) error {
	return h.act(w, r, h.svc.Retry)
}

// act runs a per-task command and answers with the task's new snapshot.
func (h *TaskHandlers) act(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64) error) error {
	id, err := taskID(r)
	if err != nil {
		return err
	}
	if err := op(r.Context(), id); err != nil {
		if errors.Is(err, download.ErrCannotToggle) {
			snap, _ := h.svc.Get(id)
			return apperrors.CannotToggle(string(snap.Status))
		}
		return toAppError(err, id, "")
	}
	snap, err := h.svc.Get(id)
	if err != nil {
		return toAppError(err, id, "")
	}
	return writeJSON(w, r, http.StatusOK, snap)
}

// CancelAll handles POST /api/tasks/cancel-all
func (h *TaskHandlers) CancelAll(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, r, http.StatusOK, CountResponse{Affected: h.svc.CancelAll(r.Context())})
}

// PauseAll handles POST /api/tasks/pause-all
func (h *TaskHandlers) PauseAll(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, r, http.StatusOK, CountResponse{Affected: h.svc.PauseAll()})
}

// ResumeAll handles POST /api/tasks/resume-all
func (h *TaskHandlers) ResumeAll(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, r, http.StatusOK, CountResponse{Affected: h.svc.ResumeAll(r.Context())})
}

// RemoveCompleted handles DELETE /api/tasks/completed
func (h *TaskHandlers) RemoveCompleted(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, r, http.StatusOK, CountResponse{Affected: h.svc.RemoveCompleted()})
}

// Probe handles GET /api/probe?url=&audio_only=
func (h *TaskHandlers) Probe(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	url := q.Get("url")
	audioOnly, _ := strconv.ParseBool(q.Get("audio_only"))

	meta, err := h.svc.Probe(r.Context(), url, audioOnly)
	if err != nil {
		if errors.Is(err, download.ErrInvalidURL) || fetch.IsPermanent(err) {
			return toAppError(err, 0, url)
		}
		return apperrors.FetchError("failed to probe url").WithCause(err)
	}
	if meta.Variants == nil {
		meta.Variants = []fetch.Variant{}
	}
	return writeJSON(w, r, http.StatusOK, meta)
}

// History handles GET /api/history
func (h *TaskHandlers) History(w http.ResponseWriter, r *http.Request) error {
	entries, err := h.svc.History(r.Context())
	if err != nil {
		return apperrors.DatabaseError("failed to read history").WithCause(err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return writeJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

type WorkersRequest struct {
	Count int `json:"count"`
}

type WorkersResponse struct {
	Workers int `json:"workers"`
}

// Workers handles GET /api/workers
func (h *TaskHandlers) Workers(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, r, http.StatusOK, WorkersResponse{Workers: h.svc.Workers()})
}

// ResizeWorkers handles PUT /api/workers
func (h *TaskHandlers) ResizeWorkers(w http.ResponseWriter, r *http.Request) error {
	var req WorkersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := resize(r.Context(), h.svc, req.Count, h.resizeWait); err != nil {
		return toAppError(err, 0, "")
	}
	return writeJSON(w, r, http.StatusOK, WorkersResponse{Workers: h.svc.Workers()})
}

// resize bounds how long a request waits for retiring workers.
func resize(ctx context.Context, svc *download.Service, n int, wait time.Duration) error {
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	return svc.Resize(ctx, n)
}

func taskID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ValidationError("invalid task id").
			WithDetails(map[string]any{"id": raw})
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.BadRequest("invalid request body").WithCause(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) error {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), status, data)
	return nil
}
