package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/viora/downloader/internal/errors"
)

func TestLogger_BasicLogging(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelDebug, "worker")

	log.Info(context.Background(), "task started", map[string]interface{}{
		"url": "https://example.com/v",
	})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if entry.Level != "info" {
		t.Errorf("expected level info, got %s", entry.Level)
	}
	if entry.Message != "task started" {
		t.Errorf("expected message 'task started', got %s", entry.Message)
	}
	if entry.Component != "worker" {
		t.Errorf("expected component worker, got %s", entry.Component)
	}
	if entry.Fields["url"] != "https://example.com/v" {
		t.Errorf("expected url field, got %v", entry.Fields["url"])
	}
	if entry.Timestamp == "" {
		t.Error("expected timestamp")
	}
}

func TestLogger_ContextIDs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelDebug, "")

	ctx := apperrors.WithTaskID(apperrors.WithRequestID(context.Background(), "req-9"), 12)
	log.Info(ctx, "hello")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry.RequestID != "req-9" {
		t.Errorf("request_id = %q, want req-9", entry.RequestID)
	}
	if entry.TaskID != 12 {
		t.Errorf("task_id = %d, want 12", entry.TaskID)
	}
}

func TestLogger_LogLevels(t *testing.T) {
	tests := []struct {
		minLevel     Level
		logLevel     Level
		shouldOutput bool
	}{
		{LevelInfo, LevelDebug, false},
		{LevelInfo, LevelInfo, true},
		{LevelWarn, LevelInfo, false},
		{LevelWarn, LevelWarn, true},
		{LevelError, LevelWarn, false},
		{LevelError, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.minLevel, tt.logLevel), func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, tt.minLevel, "")
			ctx := context.Background()

			switch tt.logLevel {
			case LevelDebug:
				log.Debug(ctx, "msg")
			case LevelInfo:
				log.Info(ctx, "msg")
			case LevelWarn:
				log.Warn(ctx, "msg")
			case LevelError:
				log.Error(ctx, "msg", nil)
			}

			if got := buf.Len() > 0; got != tt.shouldOutput {
				t.Errorf("output = %v, want %v", got, tt.shouldOutput)
			}
		})
	}
}

func TestLogger_ErrorDetails(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelInfo, "api")

	log.Error(context.Background(), "lookup failed", apperrors.TaskNotFound(3))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry.Error == nil {
		t.Fatal("expected error details")
	}
	if entry.Error.Code != apperrors.CodeTaskNotFound {
		t.Errorf("error code = %q", entry.Error.Code)
	}
	if entry.Error.StackTrace == "" {
		t.Error("expected stack trace on error level")
	}
	if !strings.Contains(entry.Caller, "logger_test.go") {
		t.Errorf("caller = %q, want logger_test.go", entry.Caller)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSanitizeQuery(t *testing.T) {
	got := sanitizeQuery("token=abc&url=https%3A%2F%2Fx&api_key=1")
	want := "token=[REDACTED]&url=https%3A%2F%2Fx&api_key=[REDACTED]"
	if got != want {
		t.Errorf("sanitizeQuery = %q, want %q", got, want)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(&buf, LevelInfo, ""))
	defer SetDefault(prev)

	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}
