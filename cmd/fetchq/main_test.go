package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/viora/downloader/internal/download"
)

func TestCollectURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "https://example.com/a.mp3\n\n# comment\n  https://example.com/b.mp3  \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	urls, err := collectURLs([]string{"https://example.com/arg.mp3"}, path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://example.com/arg.mp3", "https://example.com/a.mp3", "https://example.com/b.mp3"}
	if len(urls) != len(want) {
		t.Fatalf("urls = %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}

	if _, err := collectURLs(nil, filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestTracker_Settled(t *testing.T) {
	tr := newTracker(3)

	tests := []struct {
		name string
		snap download.TaskSnapshot
		want bool
	}{
		{"running", download.TaskSnapshot{Status: download.StatusRunning}, false},
		{"queued", download.TaskSnapshot{Status: download.StatusQueued}, false},
		{"paused", download.TaskSnapshot{Status: download.StatusPaused}, false},
		{"done", download.TaskSnapshot{Status: download.StatusDone}, true},
		{"canceled", download.TaskSnapshot{Status: download.StatusCanceled}, true},
		{"failed permanently", download.TaskSnapshot{Status: download.StatusFailed}, true},
		{"failed with retries left", download.TaskSnapshot{Status: download.StatusFailed, Retryable: true, RetryCount: 1}, false},
		{"failed retries exhausted", download.TaskSnapshot{Status: download.StatusFailed, Retryable: true, RetryCount: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.settled(tt.snap); got != tt.want {
				t.Errorf("settled = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTracker_Progress(t *testing.T) {
	tr := newTracker(0)
	tr.Notify(download.TaskSnapshot{ID: 1, Status: download.StatusRunning, Progress: 40})
	tr.Notify(download.TaskSnapshot{ID: 2, Status: download.StatusDone, Progress: 100})
	tr.Notify(download.TaskSnapshot{ID: 3, Status: download.StatusFailed, Progress: 10})

	select {
	case <-tr.changed:
	default:
		t.Error("Notify did not signal a change")
	}

	settled, total := tr.progress([]int64{1, 2, 3, 4})
	if settled != 2 || total != 240 {
		t.Errorf("progress = (%d, %d), want (2, 240)", settled, total)
	}
}
