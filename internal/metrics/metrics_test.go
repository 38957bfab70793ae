package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/viora/downloader/internal/download"
)

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/tasks", 200, 100*time.Millisecond)
	m.RecordRequest("GET", "/api/tasks", 200, 150*time.Millisecond)
	m.RecordRequest("GET", "/api/tasks", 500, 50*time.Millisecond)

	// Request the metrics handler
	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "viora_http_requests_total") {
		t.Error("expected viora_http_requests_total metric")
	}
	if !strings.Contains(body, "viora_http_request_duration_seconds") {
		t.Error("expected viora_http_request_duration_seconds metric")
	}
}

func TestMetrics_GaugeFunc(t *testing.T) {
	m := New()

	queued := 5
	m.GaugeFunc("queue_length", func() float64 { return float64(queued) })
	m.GaugeFunc("workers", func() float64 { return 2 })

	body := scrape(m)
	if !strings.Contains(body, "viora_queue_length 5\n") || !strings.Contains(body, "viora_workers 2\n") {
		t.Errorf("missing gauges, got:\n%s", body)
	}

	queued = 0
	if body := scrape(m); !strings.Contains(body, "viora_queue_length 0\n") {
		t.Errorf("gauge not re-read at scrape time:\n%s", body)
	}
}

func TestMetrics_TaskOutcomes(t *testing.T) {
	m := New()

	for _, s := range []download.Status{
		download.StatusQueued, download.StatusRunning, download.StatusDone,
		download.StatusFailed, download.StatusFailed, download.StatusCanceled,
	} {
		m.Notify(download.TaskSnapshot{ID: 1, Status: s})
	}

	body := scrape(m)
	for _, want := range []string{
		`viora_task_attempts_total{status="done"} 1`,
		`viora_task_attempts_total{status="failed"} 2`,
		`viora_task_attempts_total{status="canceled"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s, got:\n%s", want, body)
		}
	}
	if strings.Contains(body, `status="running"`) {
		t.Error("progress updates should not be counted")
	}
}

func scrape(m *Metrics) string {
	w := httptest.NewRecorder()
	m.Handler()(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

func TestMetrics_Uptime(t *testing.T) {
	m := New()

	// Wait a bit to ensure uptime is > 0
	time.Sleep(10 * time.Millisecond)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "viora_uptime_seconds") {
		t.Error("expected viora_uptime_seconds metric")
	}
}

func TestMetrics_EndpointNormalization(t *testing.T) {
	m := New()

	// These should be normalized to the same endpoint
	m.RecordRequest("GET", "/api/tasks/17/cancel", 200, 10*time.Millisecond)
	m.RecordRequest("GET", "/api/tasks/42/cancel", 200, 10*time.Millisecond)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "/api/tasks/{id}/cancel") {
		t.Errorf("expected normalized endpoint /api/tasks/{id}/cancel, got:\n%s", body)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrappedHandler := MetricsMiddleware(m)(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	// Check that metrics were recorded
	metricsHandler := m.Handler()
	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsW := httptest.NewRecorder()

	metricsHandler(metricsW, metricsReq)

	body := metricsW.Body.String()

	if !strings.Contains(body, "/api/settings") {
		t.Errorf("expected endpoint /api/settings in metrics, got:\n%s", body)
	}
}
