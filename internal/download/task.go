package download

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viora/downloader/internal/fetch"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusQueued   Status = "QUEUED"
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusDone     Status = "DONE"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

var (
	ErrInvalidURL        = errors.New("invalid url")
	ErrTaskNotFound      = errors.New("task not found")
	ErrCannotToggle      = errors.New("cannot toggle: task is not running or paused")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// transitions lists the legal next states for every state.
var transitions = map[Status][]Status{
	StatusNew:     {StatusQueued},
	StatusQueued:  {StatusRunning, StatusCanceled},
	StatusRunning: {StatusDone, StatusFailed, StatusCanceled, StatusPaused},
	StatusPaused:  {StatusQueued, StatusCanceled},
	StatusFailed:  {StatusQueued, StatusCanceled},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states a task never leaves.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCanceled
}

// IsFinished returns true for states that may be cleared from the registry.
func (s Status) IsFinished() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCanceled
}

// IsActive returns true while the task is waiting for or holding a worker.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusRunning
}

// Valid reports whether s is one of the seven known states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusQueued, StatusRunning, StatusPaused, StatusDone, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

var lastTaskID atomic.Int64

// Task is one requested download. The registry, the queue and the executing
// worker all share the same *Task.
type Task struct {
	ID        int64
	URL       string
	AudioOnly bool
	Format    string
	CreatedAt time.Time

	cancelSignal atomic.Bool
	pauseSignal  atomic.Bool

	mu           sync.RWMutex
	status       Status
	progress     float64
	speed        string
	eta          string
	title        string
	errorMessage string
	retryCount   int
	retryable    bool
	drainPause   bool
	attempt      int
	outputPath   string
	startedAt    time.Time
	finishedAt   time.Time
}

// NewTask creates a task in status NEW with the next id.
func NewTask(url string, audioOnly bool, format string) *Task {
	return &Task{
		ID:        lastTaskID.Add(1),
		URL:       url,
		AudioOnly: audioOnly,
		Format:    format,
		CreatedAt: time.Now(),
		status:    StatusNew,
		speed:     "-",
		eta:       "-",
		title:     "-",
	}
}

// TaskSnapshot is an immutable copy of a task's state.
type TaskSnapshot struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	AudioOnly  bool      `json:"audio_only"`
	Format     string    `json:"format,omitempty"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Speed      string    `json:"speed"`
	ETA        string    `json:"eta"`
	Title      string    `json:"title"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count"`
	Retryable  bool      `json:"retryable,omitempty"`
	Attempt    int       `json:"attempt"`
	OutputPath string    `json:"output_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	CancelFlag bool      `json:"cancel_requested,omitempty"`
	PauseFlag  bool      `json:"pause_requested,omitempty"`
}

func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Task) snapshotLocked() TaskSnapshot {
	return TaskSnapshot{
		ID:         t.ID,
		URL:        t.URL,
		AudioOnly:  t.AudioOnly,
		Format:     t.Format,
		Status:     t.status,
		Progress:   math.Round(t.progress*10) / 10,
		Speed:      t.speed,
		ETA:        t.eta,
		Title:      t.title,
		Error:      t.errorMessage,
		RetryCount: t.retryCount,
		Retryable:  t.status == StatusFailed && t.retryable,
		Attempt:    t.attempt,
		OutputPath: t.outputPath,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
		CancelFlag: t.cancelSignal.Load(),
		PauseFlag:  t.pauseSignal.Load(),
	}
}

func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

// OutputPath is the last path the engine reported writing to.
func (t *Task) OutputPath() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.outputPath
}

func (t *Task) CancelRequested() bool { return t.cancelSignal.Load() }
func (t *Task) PauseRequested() bool  { return t.pauseSignal.Load() }

// setStatusLocked applies a legal transition. Caller holds t.mu.
func (t *Task) setStatusLocked(to Status) error {
	if !CanTransition(t.status, to) {
		return ErrInvalidTransition
	}
	t.status = to
	if to.IsFinished() || to == StatusPaused {
		t.finishedAt = time.Now()
	}
	if to == StatusQueued {
		t.errorMessage = ""
	}
	return nil
}

// markQueued moves a new task into the queue state.
func (t *Task) markQueued() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setStatusLocked(StatusQueued)
}

// begin starts a fresh attempt. It returns false when the task must be
// skipped, which is the case for a task canceled while it sat in the queue.
func (t *Task) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusQueued {
		return false
	}
	t.status = StatusRunning
	t.cancelSignal.Store(false)
	t.pauseSignal.Store(false)
	t.drainPause = false
	t.attempt++
	t.progress = 0
	t.speed, t.eta = "-", "-"
	t.startedAt = time.Now()
	t.finishedAt = time.Time{}
	return true
}

// applyProgress folds one engine report into the task. Progress never
// decreases within an attempt; an unknown total leaves it untouched.
func (t *Task) applyProgress(p fetch.Progress) TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.TotalBytes > 0 {
		pct := math.Min(100, float64(p.DownloadedBytes)*100/float64(p.TotalBytes))
		if pct > t.progress {
			t.progress = pct
		}
	}
	t.speed = FormatSpeed(p.SpeedBps)
	t.eta = FormatETA(p.ETASeconds)
	if p.Filename != "" {
		t.outputPath = p.Filename
	}
	if p.Title != "" {
		t.title = p.Title
	}
	return t.snapshotLocked()
}

// notePath caches the path the engine is writing to.
func (t *Task) notePath(path string) {
	if path == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputPath = path
}

// complete marks a successful attempt.
func (t *Task) complete(res *fetch.Result) TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if res != nil {
		if res.OutputPath != "" {
			t.outputPath = res.OutputPath
		}
		if res.Title != "" {
			t.title = res.Title
		}
	}
	t.status = StatusDone
	t.speed, t.eta = "-", "-"
	t.finishedAt = time.Now()
	return t.snapshotLocked()
}

// fail records a failed attempt. retryable=false keeps automatic retry away.
func (t *Task) fail(msg string, retryable bool) TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = StatusFailed
	t.errorMessage = msg
	t.retryable = retryable
	t.speed, t.eta = "-", "-"
	t.finishedAt = time.Now()
	return t.snapshotLocked()
}

// markStuck fails a task that was moved to QUEUED but could not be pushed.
func (t *Task) markStuck(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusQueued {
		return
	}
	t.status = StatusFailed
	t.errorMessage = err.Error()
	t.retryable = false
	t.finishedAt = time.Now()
}

// halt records a user abort observed by the worker (CANCELED or PAUSED).
func (t *Task) halt(to Status) TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = to
	t.speed, t.eta = "-", "-"
	t.finishedAt = time.Now()
	return t.snapshotLocked()
}

// cancel handles an explicit cancel request. For a running task it only
// raises the flag; the worker performs the transition. It reports whether
// the control plane itself moved the task to CANCELED.
func (t *Task) cancel() (canceledNow bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case StatusCanceled:
		return false, nil
	case StatusRunning:
		t.cancelSignal.Store(true)
		return false, nil
	case StatusNew, StatusQueued, StatusPaused, StatusFailed:
		t.cancelSignal.Store(true)
		t.status = StatusCanceled
		t.speed, t.eta = "-", "-"
		t.finishedAt = time.Now()
		return true, nil
	default:
		return false, ErrInvalidTransition
	}
}

// requestPause raises the pause flag on a running task on behalf of the
// user. emit, when set, receives the flagged snapshot before the lock is
// released so it is ordered ahead of the worker's PAUSED report.
func (t *Task) requestPause(emit func(TaskSnapshot)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusRunning {
		return ErrCannotToggle
	}
	t.pauseSignal.Store(true)
	t.drainPause = false
	if emit != nil {
		emit(t.snapshotLocked())
	}
	return nil
}

// requestDrainPause pauses a running task for a pool resize. A task the
// user already asked to pause is left alone and reported as not taken.
func (t *Task) requestDrainPause(emit func(TaskSnapshot)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusRunning || t.pauseSignal.Load() {
		return false
	}
	t.pauseSignal.Store(true)
	t.drainPause = true
	if emit != nil {
		emit(t.snapshotLocked())
	}
	return true
}

// resume re-queues a paused task.
func (t *Task) resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusPaused {
		return ErrCannotToggle
	}
	t.pauseSignal.Store(false)
	t.drainPause = false
	return t.setStatusLocked(StatusQueued)
}

// resumeDrained re-queues a task only while it is still parked by a resize.
func (t *Task) resumeDrained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusPaused || !t.drainPause {
		return false
	}
	t.pauseSignal.Store(false)
	t.drainPause = false
	return t.setStatusLocked(StatusQueued) == nil
}

// retry re-queues a failed task on explicit request. retryCount is untouched.
func (t *Task) retry() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusFailed {
		return ErrInvalidTransition
	}
	return t.setStatusLocked(StatusQueued)
}

// autoRetry re-queues a failed task on behalf of the retry policy. It only
// succeeds if the task is still in the failed attempt the policy saw.
func (t *Task) autoRetry(attempt, maxRetries int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusFailed || t.attempt != attempt || !t.retryable || t.retryCount >= maxRetries {
		return false
	}
	t.retryCount++
	return t.setStatusLocked(StatusQueued) == nil
}

// retryAllowed reports whether the retry policy may re-queue the task.
func (t *Task) retryAllowed(maxRetries int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status == StatusFailed && t.retryable && t.retryCount < maxRetries
}

// started reports whether any attempt has begun, i.e. output may exist.
func (t *Task) started() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attempt > 0
}
