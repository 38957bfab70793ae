package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/viora/downloader/internal/config"
	apperrors "github.com/viora/downloader/internal/errors"
	"github.com/viora/downloader/internal/fetch"
	"github.com/viora/downloader/internal/history"
	"github.com/viora/downloader/internal/logger"
)

const (
	// Default configuration values
	DefaultPollInterval = 200 * time.Millisecond
	DefaultMaxRetries   = 3

	defaultAudioQuality   = "192K"
	defaultHistoryTimeout = 5 * time.Second
)

// Worker is one execution loop bound to a goroutine. done is closed when
// the loop has exited.
type Worker struct {
	id   int
	done chan struct{}
}

// ID returns the worker number, unique within a pool.
func (w *Worker) ID() int { return w.id }

// Done is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// run pops tasks until it sees a stop marker, the queue closes or ctx ends.
func (w *Worker) run(ctx context.Context, q Queue, r *runner, poll time.Duration) {
	defer close(w.done)

	fields := map[string]interface{}{"worker": w.id}
	r.log.Debug(ctx, "worker started", fields)
	defer r.log.Debug(ctx, "worker stopped", fields)

	for {
		task, err := q.Pop(ctx, poll)
		switch {
		case err == nil:
			r.execute(ctx, w.id, task)
		case errors.Is(err, ErrQueueEmpty):
		case errors.Is(err, ErrStopMarker), errors.Is(err, ErrQueueClosed), ctx.Err() != nil:
			return
		default:
			r.log.Error(ctx, "failed to pop task", err, fields)
			select {
			case <-time.After(poll):
			case <-ctx.Done():
				return
			}
		}
	}
}

// runner executes single attempts. It is shared by every worker of a pool.
type runner struct {
	engine   fetch.Engine
	settings SettingsProvider
	history  HistoryStore
	emit     func(TaskSnapshot)
	log      *logger.Logger
}

// execute performs one attempt of task and reports every state change
// through emit. The engine is never called for a task that is no longer
// QUEUED, which covers tasks canceled while waiting in the queue.
func (r *runner) execute(ctx context.Context, workerID int, task *Task) {
	if !task.begin() {
		r.log.Debug(ctx, "skipping task", map[string]interface{}{
			"worker":  workerID,
			"task_id": task.ID,
			"status":  string(task.Status()),
		})
		return
	}

	ctx = apperrors.WithTaskID(ctx, task.ID)
	r.emit(task.Snapshot())
	r.log.Info(ctx, "task started", map[string]interface{}{"worker": workerID, "url": task.URL})

	opts := r.options(task)
	res, err := r.fetch(ctx, task, opts)

	var snap TaskSnapshot
	switch {
	case err == nil:
		snap = task.complete(res)
		r.recordHistory(ctx, snap, opts)
		r.log.Info(ctx, "task done", map[string]interface{}{"output": snap.OutputPath})

	case errors.Is(err, fetch.ErrCanceled),
		errors.Is(err, fetch.ErrPaused) && task.CancelRequested():
		r.cleanup(ctx, task, opts)
		snap = task.halt(StatusCanceled)
		r.log.Info(ctx, "task canceled")

	case errors.Is(err, fetch.ErrPaused):
		snap = task.halt(StatusPaused)
		r.log.Info(ctx, "task paused", map[string]interface{}{"progress": snap.Progress})

	default:
		snap = task.fail(err.Error(), !fetch.IsPermanent(err))
		r.log.Warn(ctx, "task failed", map[string]interface{}{"error": err.Error()})
	}

	r.emit(snap)
}

// fetch calls the engine. The progress callback is where cancel and pause
// requests are observed; a panicking engine fails the attempt.
func (r *runner) fetch(ctx context.Context, task *Task, opts fetch.Options) (res *fetch.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fetch engine panic: %v", p)
		}
	}()

	return r.engine.Fetch(ctx, task.URL, opts, func(p fetch.Progress) error {
		// cleanup after an abort needs the path even if this report is dropped
		task.notePath(p.Filename)
		if task.CancelRequested() {
			return fetch.ErrCanceled
		}
		if task.PauseRequested() {
			return fetch.ErrPaused
		}
		r.emit(task.applyProgress(p))
		return nil
	})
}

// options resolves engine options from a fresh settings snapshot.
func (r *runner) options(task *Task) fetch.Options {
	var s config.Settings
	if r.settings != nil {
		s = r.settings.Settings()
	} else {
		s = config.DefaultSettings()
	}

	return fetch.Options{
		OutputDir:        s.DownloadFolder,
		FilenameTemplate: s.FilenameTemplate,
		ResumePath:       task.OutputPath(),
		Format:           task.Format,
		AudioOnly:        task.AudioOnly || s.AudioOnly,
		AudioFormat:      s.AudioFormat,
		AudioQuality:     defaultAudioQuality,
		WriteSubtitles:   s.EnableSubtitles,
		SubtitleLangs:    s.SubtitleLangs,
		EmbedSubtitles:   s.BurnSubtitles,
		RateLimitBytes:   int64(s.MaxSpeedKBps) * 1024,
		AllowPlaylist:    s.EnablePlaylist,
	}
}

func (r *runner) recordHistory(ctx context.Context, snap TaskSnapshot, opts fetch.Options) {
	if r.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, defaultHistoryTimeout)
	defer cancel()

	entry := history.Entry{
		TaskID:    snap.ID,
		Title:     snap.Title,
		URL:       snap.URL,
		File:      snap.OutputPath,
		Format:    snap.Format,
		When:      time.Now(),
		AudioOnly: opts.AudioOnly,
		Subtitles: opts.WriteSubtitles,
	}
	if err := r.history.Append(ctx, entry); err != nil {
		r.log.Error(ctx, "failed to append history", err)
	}
}

// cleanup removes partial output of a canceled task. It prefers the path the
// engine reported during the attempt and only asks the engine to resolve it
// when nothing was cached. Missing files are not an error.
func (r *runner) cleanup(ctx context.Context, task *Task, opts fetch.Options) {
	if !task.started() {
		return
	}

	path := task.OutputPath()
	if path == "" {
		resolved, err := r.engine.ResolveOutputPath(ctx, task.URL, opts)
		if err != nil {
			r.log.Warn(ctx, "cannot resolve output path for cleanup", map[string]interface{}{"error": err.Error()})
			return
		}
		path = resolved
	}
	if path == "" {
		return
	}

	for _, p := range cleanupCandidates(path, opts) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn(ctx, "failed to remove partial file", map[string]interface{}{
				"path":  p,
				"error": err.Error(),
			})
		}
	}
}

// cleanupCandidates lists the files an interrupted attempt may have left.
func cleanupCandidates(path string, opts fetch.Options) []string {
	files := []string{path, path + ".part", path + ".ytdl"}
	if opts.AudioOnly && opts.AudioFormat != "" {
		converted := strings.TrimSuffix(path, filepath.Ext(path)) + "." + opts.AudioFormat
		if converted != path {
			files = append(files, converted)
		}
	}
	return files
}
