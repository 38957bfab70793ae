package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"task not found", TaskNotFound(7), http.StatusNotFound, CodeTaskNotFound},
		{"cannot toggle", CannotToggle("DONE"), http.StatusConflict, CodeCannotToggle},
		{"invalid url", InvalidURL("ftp://x"), http.StatusBadRequest, CodeInvalidURL},
		{"wrapped app error", fmt.Errorf("enqueue: %w", InvalidURL("x")), http.StatusBadRequest, CodeInvalidURL},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, "req-1", tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get(RequestIDHeader); got != "req-1" {
				t.Errorf("request id header = %q, want req-1", got)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{FetchError("yt-dlp exited 1"), true},
		{StorageError("upload failed"), true},
		{DatabaseError("constraint"), false},
		{TaskNotFound(1), false},
		{fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetry(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	calls = 0
	err = Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return TaskNotFound(1)
	})
	if err == nil || calls != 1 {
		t.Errorf("non-retryable error: calls = %d, err = %v", calls, err)
	}
}

func TestTaskRetryConfig_Backoff(t *testing.T) {
	if got := TaskRetryConfig(3, 0).Backoff(2); got != 0 {
		t.Errorf("zero initial backoff should disable waiting, got %v", got)
	}

	cfg := TaskRetryConfig(3, time.Second)
	cfg.Jitter = false
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestContextIDs(t *testing.T) {
	ctx := WithTaskID(WithRequestID(context.Background(), "abc"), 42)
	if GetRequestID(ctx) != "abc" {
		t.Errorf("GetRequestID = %q", GetRequestID(ctx))
	}
	if GetTaskID(ctx) != 42 {
		t.Errorf("GetTaskID = %d", GetTaskID(ctx))
	}
	if GetTaskID(context.Background()) != 0 {
		t.Error("expected zero task id on bare context")
	}
}
