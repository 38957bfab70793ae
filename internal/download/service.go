package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viora/downloader/internal/config"
	apperrors "github.com/viora/downloader/internal/errors"
	"github.com/viora/downloader/internal/fetch"
	"github.com/viora/downloader/internal/history"
	"github.com/viora/downloader/internal/logger"
	"github.com/viora/downloader/internal/validators"
)

// SettingsProvider hands out the current user settings. Every call returns
// an independent snapshot.
type SettingsProvider interface {
	Settings() config.Settings
}

// HistoryStore records completed downloads.
type HistoryStore interface {
	Append(ctx context.Context, e history.Entry) error
	Read(ctx context.Context) ([]history.Entry, error)
}

// Archiver copies a finished download somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, snap TaskSnapshot) error
}

// PlaylistExpander turns a playlist URL into the URLs of its entries.
type PlaylistExpander interface {
	Expand(ctx context.Context, url string) ([]string, error)
}

// DrainPolicy decides what a resize does with tasks that are running.
type DrainPolicy string

const (
	// DrainWait lets retiring workers finish their current task.
	DrainWait DrainPolicy = "wait"
	// DrainRequeue pauses running tasks and resumes them on the new workers.
	DrainRequeue DrainPolicy = "requeue"
)

const defaultArchiveTimeout = 10 * time.Minute

// Config holds configuration for the download service
type Config struct {
	// Workers is the initial pool size. Zero uses the concurrent_downloads setting.
	Workers      int
	PollInterval time.Duration
	MaxRetries   int
	AutoRetry    bool
	RetryDelay   time.Duration
	DrainPolicy  DrainPolicy
}

// Deps are the collaborators of a Service. Engine is required; a nil Queue
// selects a MemoryQueue.
type Deps struct {
	Queue    Queue
	Engine   fetch.Engine
	Settings SettingsProvider
	History  HistoryStore
	Notifier Notifier
	Archiver Archiver
	Expander PlaylistExpander
	Logger   *logger.Logger
}

// Service is the download orchestrator. It owns the task registry, the
// worker pool and the event dispatcher, and is the only thing outer layers
// talk to.
type Service struct {
	cfg      Config
	queue    Queue
	engine   fetch.Engine
	settings SettingsProvider
	history  HistoryStore
	notifier Notifier
	archiver Archiver
	expander PlaylistExpander
	retry    *apperrors.RetryConfig
	log      *logger.Logger

	runner *runner
	pool   *WorkerPool
	events *eventQueue

	mu    sync.RWMutex
	tasks map[int64]*Task

	startOnce    sync.Once
	stopOnce     sync.Once
	stopCh       chan struct{}
	dispatchDone chan struct{}
	bg           sync.WaitGroup
}

// NewService creates a new download service
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Engine == nil {
		return nil, errors.New("download: engine is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.DrainPolicy == "" {
		cfg.DrainPolicy = DrainWait
	}
	if cfg.DrainPolicy != DrainWait && cfg.DrainPolicy != DrainRequeue {
		return nil, fmt.Errorf("download: unknown drain policy %q", cfg.DrainPolicy)
	}

	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("download")

	q := deps.Queue
	if q == nil {
		q = NewMemoryQueue()
	}

	s := &Service{
		cfg:          cfg,
		queue:        q,
		engine:       deps.Engine,
		settings:     deps.Settings,
		history:      deps.History,
		notifier:     deps.Notifier,
		archiver:     deps.Archiver,
		expander:     deps.Expander,
		retry:        apperrors.TaskRetryConfig(cfg.MaxRetries, cfg.RetryDelay),
		log:          log,
		events:       newEventQueue(),
		tasks:        make(map[int64]*Task),
		stopCh:       make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	s.runner = &runner{
		engine:   s.engine,
		settings: s.settings,
		history:  s.history,
		emit:     s.emit,
		log:      log,
	}
	s.pool = newWorkerPool(q, s.runner, cfg.PollInterval)

	if rq, ok := q.(interface{ SetResolver(TaskResolver) }); ok {
		rq.SetResolver(s.lookup)
	}
	return s, nil
}

// Start launches the event dispatcher and the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.startOnce.Do(func() { go s.dispatch() })

	n := s.cfg.Workers
	if n <= 0 && s.settings != nil {
		n = s.settings.Settings().ConcurrentDownloads
	}
	if n <= 0 {
		n = 1
	}
	if err := s.pool.Start(n); err != nil {
		return err
	}
	s.log.Info(ctx, "download service started", map[string]interface{}{
		"workers":      n,
		"max_retries":  s.cfg.MaxRetries,
		"auto_retry":   s.cfg.AutoRetry,
		"drain_policy": string(s.cfg.DrainPolicy),
	})
	return nil
}

// Stop retires the workers, letting them finish their current task until ctx
// ends; after that in-flight fetches are aborted. Pending retries are
// dropped, queued notifications are still delivered.
func (s *Service) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if err = s.pool.StopAll(ctx); err != nil {
			s.log.Warn(ctx, "aborting running downloads", map[string]interface{}{"error": err.Error()})
			s.pool.Abort()
		}
		close(s.stopCh)

		s.startOnce.Do(func() { close(s.dispatchDone) })
		s.events.close()

		done := make(chan struct{})
		go func() {
			<-s.dispatchDone
			s.bg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}

		if cerr := s.queue.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (s *Service) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Enqueue registers a new task and queues it.
func (s *Service) Enqueue(ctx context.Context, url string, audioOnly bool, format string) (int64, error) {
	url = strings.TrimSpace(url)
	if !validators.IsValidURL(url) {
		return 0, ErrInvalidURL
	}

	task := NewTask(url, audioOnly, strings.TrimSpace(format))
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	if err := task.markQueued(); err != nil {
		return 0, err
	}
	s.emit(task.Snapshot())

	if err := s.queue.Push(ctx, task); err != nil {
		task.cancel()
		s.mu.Lock()
		delete(s.tasks, task.ID)
		s.mu.Unlock()
		s.emit(task.Snapshot())
		return 0, fmt.Errorf("failed to queue task: %w", err)
	}

	s.log.Info(ctx, "task queued", map[string]interface{}{
		"task_id":    task.ID,
		"url":        url,
		"audio_only": audioOnly,
	})
	return task.ID, nil
}

// BatchItem is one URL of a batch enqueue.
type BatchItem struct {
	URL       string `json:"url"`
	AudioOnly bool   `json:"audio_only"`
	Format    string `json:"format,omitempty"`
}

// BatchResult lists the created ids and the URLs that were refused.
type BatchResult struct {
	IDs      []int64  `json:"ids"`
	Rejected []string `json:"rejected,omitempty"`
}

// EnqueueBatch enqueues every valid URL of items. Invalid URLs are skipped
// and reported; the first infrastructure error stops the batch.
func (s *Service) EnqueueBatch(ctx context.Context, items []BatchItem) (BatchResult, error) {
	var res BatchResult
	for _, it := range items {
		id, err := s.Enqueue(ctx, it.URL, it.AudioOnly, it.Format)
		switch {
		case errors.Is(err, ErrInvalidURL):
			res.Rejected = append(res.Rejected, it.URL)
		case err != nil:
			return res, err
		default:
			res.IDs = append(res.IDs, id)
		}
	}
	return res, nil
}

// EnqueuePlaylist expands a playlist URL and enqueues one task per entry.
func (s *Service) EnqueuePlaylist(ctx context.Context, url string, audioOnly bool, format string) (BatchResult, error) {
	if s.expander == nil {
		return BatchResult{}, errors.New("playlist expansion is not configured")
	}
	if !validators.IsValidURL(strings.TrimSpace(url)) {
		return BatchResult{}, ErrInvalidURL
	}

	urls, err := s.expander.Expand(ctx, url)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to expand playlist: %w", err)
	}

	items := make([]BatchItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, BatchItem{URL: u, AudioOnly: audioOnly, Format: format})
	}
	return s.EnqueueBatch(ctx, items)
}

// Cancel cancels a task. A running task is only flagged and its worker
// finishes the transition; any other live task is canceled at once and its
// partial output removed. Canceling a canceled task is a no-op.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	task, ok := s.lookup(id)
	if !ok {
		return ErrTaskNotFound
	}

	canceledNow, err := task.cancel()
	if err != nil {
		return err
	}
	if canceledNow {
		s.emit(task.Snapshot())
		s.runner.cleanup(ctx, task, s.runner.options(task))
	}
	s.log.Info(ctx, "cancel requested", map[string]interface{}{"task_id": id, "immediate": canceledNow})
	return nil
}

// Pause asks a running task to stop and keep its partial output.
func (s *Service) Pause(ctx context.Context, id int64) error {
	task, ok := s.lookup(id)
	if !ok {
		return ErrTaskNotFound
	}
	return task.requestPause(s.emit)
}

// Resume re-queues a paused task.
func (s *Service) Resume(ctx context.Context, id int64) error {
	task, ok := s.lookup(id)
	if !ok {
		return ErrTaskNotFound
	}
	if err := task.resume(); err != nil {
		return err
	}
	return s.requeue(ctx, task)
}

// Retry re-queues a failed task. The automatic retry counter is not touched.
func (s *Service) Retry(ctx context.Context, id int64) error {
	task, ok := s.lookup(id)
	if !ok {
		return ErrTaskNotFound
	}
	if err := task.retry(); err != nil {
		return err
	}
	return s.requeue(ctx, task)
}

// CancelAll cancels every task that is not DONE or CANCELED and returns how
// many were affected. Partial files are swept in the background.
func (s *Service) CancelAll(ctx context.Context) int {
	var count int
	var sweep []*Task
	for _, task := range s.all() {
		if task.Status().IsTerminal() {
			continue
		}
		canceledNow, err := task.cancel()
		if err != nil {
			continue
		}
		count++
		if canceledNow {
			s.emit(task.Snapshot())
			sweep = append(sweep, task)
		}
	}

	if len(sweep) > 0 {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			ctx := context.WithoutCancel(ctx)
			for _, task := range sweep {
				s.runner.cleanup(ctx, task, s.runner.options(task))
			}
		}()
	}

	s.log.Info(ctx, "canceled all tasks", map[string]interface{}{"count": count})
	return count
}

// PauseAll asks every running task to pause.
func (s *Service) PauseAll() int {
	var count int
	for _, task := range s.all() {
		if task.requestPause(s.emit) == nil {
			count++
		}
	}
	return count
}

// ResumeAll re-queues every paused or failed task.
func (s *Service) ResumeAll(ctx context.Context) int {
	var count int
	for _, task := range s.all() {
		var err error
		switch task.Status() {
		case StatusPaused:
			err = task.resume()
		case StatusFailed:
			err = task.retry()
		default:
			continue
		}
		if err != nil {
			continue
		}
		if s.requeue(ctx, task) == nil {
			count++
		}
	}
	return count
}

// RemoveCompleted drops every DONE, FAILED and CANCELED task from the
// registry and returns how many were removed.
func (s *Service) RemoveCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for id, task := range s.tasks {
		if task.Status().IsFinished() {
			delete(s.tasks, id)
			count++
		}
	}
	return count
}

// Remove drops one finished task from the registry.
func (s *Service) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !task.Status().IsFinished() {
		return ErrInvalidTransition
	}
	delete(s.tasks, id)
	return nil
}

// Get returns a snapshot of one task.
func (s *Service) Get(id int64) (TaskSnapshot, error) {
	task, ok := s.lookup(id)
	if !ok {
		return TaskSnapshot{}, ErrTaskNotFound
	}
	return task.Snapshot(), nil
}

// List returns snapshots of every registered task, oldest first.
func (s *Service) List() []TaskSnapshot {
	tasks := s.all()
	out := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// Counts returns the number of registered tasks per status.
func (s *Service) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, t := range s.all() {
		counts[t.Status()]++
	}
	return counts
}

// History returns the completed downloads, oldest first.
func (s *Service) History(ctx context.Context) ([]history.Entry, error) {
	if s.history == nil {
		return []history.Entry{}, nil
	}
	return s.history.Read(ctx)
}

// Probe lists the variants of a resource. With audioOnly only audio-only
// variants are returned, best bitrate first; otherwise variants are ordered
// by height then bitrate, best first.
func (s *Service) Probe(ctx context.Context, url string, audioOnly bool) (*fetch.Metadata, error) {
	url = strings.TrimSpace(url)
	if !validators.IsValidURL(url) {
		return nil, ErrInvalidURL
	}
	meta, err := s.engine.Probe(ctx, url)
	if err != nil {
		return nil, err
	}
	meta.Variants = sortVariants(meta.Variants, audioOnly)
	return meta, nil
}

func sortVariants(in []fetch.Variant, audioOnly bool) []fetch.Variant {
	out := make([]fetch.Variant, 0, len(in))
	for _, v := range in {
		if audioOnly && !v.AudioOnly() {
			continue
		}
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !audioOnly && out[i].Height != out[j].Height {
			return out[i].Height > out[j].Height
		}
		return out[i].Bitrate > out[j].Bitrate
	})
	return out
}

// Resize changes the number of workers. With DrainRequeue running tasks are
// paused first and resumed once the new workers are up.
func (s *Service) Resize(ctx context.Context, n int) error {
	var paused []*Task
	if s.cfg.DrainPolicy == DrainRequeue {
		for _, task := range s.all() {
			if task.requestDrainPause(s.emit) {
				paused = append(paused, task)
			}
		}
	}

	err := s.pool.Resize(ctx, n)
	if len(paused) > 0 && !errors.Is(err, ErrInvalidWorkerCount) {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.resumeWhenHalted(context.WithoutCancel(ctx), paused)
		}()
	}
	if err != nil {
		return err
	}

	s.log.Info(ctx, "worker pool resized", map[string]interface{}{"workers": n})
	return nil
}

// resumeWhenHalted waits for each task to leave RUNNING and re-queues the
// ones still parked by the resize. Tasks the user paused meanwhile stay
// PAUSED.
func (s *Service) resumeWhenHalted(ctx context.Context, tasks []*Task) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for _, task := range tasks {
		for task.Status() == StatusRunning {
			select {
			case <-ticker.C:
			case <-s.stopCh:
				return
			}
		}
		if task.resumeDrained() {
			s.requeue(ctx, task)
		}
	}
}

// Workers returns the current pool size.
func (s *Service) Workers() int {
	return s.pool.Size()
}

// QueueLen returns the number of tasks waiting for a worker.
func (s *Service) QueueLen(ctx context.Context) (int, error) {
	return s.queue.Len(ctx)
}

// requeue pushes a task that was just moved to QUEUED. When the push fails
// the task is failed so it does not sit in QUEUED forever.
func (s *Service) requeue(ctx context.Context, task *Task) error {
	s.emit(task.Snapshot())
	if err := s.queue.Push(ctx, task); err != nil {
		s.log.Error(ctx, "failed to requeue task", err, map[string]interface{}{"task_id": task.ID})
		task.markStuck(err)
		s.emit(task.Snapshot())
		return fmt.Errorf("failed to queue task: %w", err)
	}
	return nil
}

func (s *Service) lookup(id int64) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// all returns the registered tasks ordered by id.
func (s *Service) all() []*Task {
	s.mu.RLock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// emit hands a snapshot to the dispatcher. It never blocks.
func (s *Service) emit(snap TaskSnapshot) {
	s.events.push(snap)
}

// dispatch delivers events in order and applies the control-plane policies.
func (s *Service) dispatch() {
	defer close(s.dispatchDone)
	for {
		snap, ok := s.events.next()
		if !ok {
			return
		}
		s.notify(snap)

		switch snap.Status {
		case StatusFailed:
			s.scheduleRetry(snap)
		case StatusDone:
			s.archive(snap)
		}
	}
}

func (s *Service) notify(snap TaskSnapshot) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.log.Error(context.Background(), "notifier panic", fmt.Errorf("%v", p), map[string]interface{}{"task_id": snap.ID})
		}
	}()
	s.notifier.Notify(snap)
}

// scheduleRetry re-queues a failed task after the backoff for its retry
// count, if the policy allows it.
func (s *Service) scheduleRetry(snap TaskSnapshot) {
	if !s.cfg.AutoRetry || s.stopped() {
		return
	}
	task, ok := s.lookup(snap.ID)
	if !ok || !task.retryAllowed(s.cfg.MaxRetries) {
		return
	}

	delay := s.retry.Backoff(snap.RetryCount)
	if delay <= 0 {
		s.autoRetry(task, snap.Attempt)
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.autoRetry(task, snap.Attempt)
		case <-s.stopCh:
		}
	}()
}

func (s *Service) autoRetry(task *Task, attempt int) {
	if cur, ok := s.lookup(task.ID); !ok || cur != task {
		return
	}
	if !task.autoRetry(attempt, s.cfg.MaxRetries) {
		return
	}

	ctx := apperrors.WithTaskID(context.Background(), task.ID)
	s.log.Debug(ctx, "retrying task", map[string]interface{}{"retry": task.RetryCount()})
	s.requeue(ctx, task)
}

func (s *Service) archive(snap TaskSnapshot) {
	if s.archiver == nil || snap.OutputPath == "" {
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(apperrors.WithTaskID(context.Background(), snap.ID), defaultArchiveTimeout)
		defer cancel()
		if err := s.archiver.Archive(ctx, snap); err != nil {
			s.log.Error(ctx, "failed to archive download", err, map[string]interface{}{"path": snap.OutputPath})
		}
	}()
}
