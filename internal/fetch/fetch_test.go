package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/viora/downloader/internal/validators"
)

func TestAbortError_Is(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCancel bool
		wantPause  bool
	}{
		{"cancel", ErrCanceled, true, false},
		{"pause", ErrPaused, false, true},
		{"wrapped cancel", fmt.Errorf("yt-dlp: %w", ErrCanceled), true, false},
		{"fresh pause value", &AbortError{Reason: AbortPause}, false, true},
		{"real failure", errors.New("HTTP Error 403"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, ErrCanceled); got != tt.wantCancel {
				t.Errorf("Is(ErrCanceled) = %v, want %v", got, tt.wantCancel)
			}
			if got := errors.Is(tt.err, ErrPaused); got != tt.wantPause {
				t.Errorf("Is(ErrPaused) = %v, want %v", got, tt.wantPause)
			}
			if got := IsAbort(tt.err); got != (tt.wantCancel || tt.wantPause) {
				t.Errorf("IsAbort = %v", got)
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("video is private")
	err := fmt.Errorf("fetch: %w", Permanent(base))

	if !IsPermanent(err) {
		t.Error("expected wrapped permanent error to be detected")
	}
	if !errors.Is(err, base) {
		t.Error("permanent error should unwrap to its cause")
	}
	if IsPermanent(base) {
		t.Error("plain error reported as permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestVariant_AudioOnly(t *testing.T) {
	if !(Variant{AudioCodec: "opus", VideoCodec: "none"}).AudioOnly() {
		t.Error("opus/none should be audio only")
	}
	if (Variant{AudioCodec: "mp4a", VideoCodec: "avc1"}).AudioOnly() {
		t.Error("muxed format reported audio only")
	}
	if (Variant{AudioCodec: "none", VideoCodec: "none"}).AudioOnly() {
		t.Error("storyboard reported audio only")
	}
}

type namedEngine struct{ name string }

func (e namedEngine) Fetch(ctx context.Context, url string, opts Options, progress ProgressFunc) (*Result, error) {
	return &Result{Title: e.name}, nil
}

func (e namedEngine) ResolveOutputPath(ctx context.Context, url string, opts Options) (string, error) {
	return e.name, nil
}

func (e namedEngine) Probe(ctx context.Context, url string) (*Metadata, error) {
	return &Metadata{Title: e.name}, nil
}

func TestRouter(t *testing.T) {
	r := NewRouter(nil, namedEngine{"ytdlp"}).
		Route(namedEngine{"direct"}, validators.SourceDirect, validators.SourceHLS)

	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "ytdlp"},
		{"https://example.com/file.mp3", "direct"},
		{"https://example.com/master.m3u8", "direct"},
		{"https://vimeo.com/1", "ytdlp"},
	}

	for _, tt := range tests {
		res, err := r.Fetch(context.Background(), tt.url, Options{}, nil)
		if err != nil {
			t.Fatalf("Fetch(%q) error = %v", tt.url, err)
		}
		if res.Title != tt.want {
			t.Errorf("Fetch(%q) routed to %s, want %s", tt.url, res.Title, tt.want)
		}
	}

	if _, err := r.Probe(context.Background(), "ftp://nope"); !IsPermanent(err) {
		t.Errorf("unsupported URL should be a permanent error, got %v", err)
	}
}
