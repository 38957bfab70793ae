// Package direct is a fetch engine for plain HTTP media files and HLS
// playlists. It needs no external tools.
package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	apperrors "github.com/viora/downloader/internal/errors"
	"github.com/viora/downloader/internal/fetch"
)

const (
	defaultProgressInterval = 250 * time.Millisecond
	copyBufferSize          = 32 * 1024
	defaultUserAgent        = "viora-downloader/1.0"
)

// Config holds configuration for the direct engine
type Config struct {
	Client    *http.Client
	UserAgent string
	// ProgressInterval throttles progress reports. Zero uses 250ms.
	ProgressInterval time.Duration
}

// Engine implements fetch.Engine over net/http.
type Engine struct {
	client   *http.Client
	ua       string
	interval time.Duration

	mu      sync.Mutex
	claimed map[string]struct{}
}

// New creates a direct engine. A nil config uses http.DefaultClient.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	e := &Engine{
		client:   cfg.Client,
		ua:       cfg.UserAgent,
		interval: cfg.ProgressInterval,
		claimed:  make(map[string]struct{}),
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.ua == "" {
		e.ua = defaultUserAgent
	}
	if e.interval <= 0 {
		e.interval = defaultProgressInterval
	}
	return e
}

// Fetch downloads url into opts.OutputDir. Bytes are written to a .part file
// that is renamed on success. A download resumes from the .part of
// opts.ResumePath; a new one never shares a file name with another.
func (e *Engine) Fetch(ctx context.Context, rawURL string, opts fetch.Options, progress fetch.ProgressFunc) (*fetch.Result, error) {
	if progress == nil {
		progress = func(fetch.Progress) error { return nil }
	}
	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create download folder: %w", err)
		}
	}
	if isHLS(rawURL) {
		return e.fetchHLS(ctx, rawURL, opts, progress)
	}
	return e.fetchFile(ctx, rawURL, opts, progress)
}

func (e *Engine) fetchFile(ctx context.Context, rawURL string, opts fetch.Options, progress fetch.ProgressFunc) (*fetch.Result, error) {
	title, ext := nameFromURL(rawURL, "")
	final, file, _, release, err := e.claim(opts, title, ext)
	if err != nil {
		return nil, err
	}
	defer release()
	defer file.Close()
	part := final + ".part"

	if err := progress(fetch.Progress{Filename: final, Title: title}); err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size()

	req, err := e.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// the part file already holds the whole body
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			// range ignored, start over
			if err := file.Truncate(0); err != nil {
				return nil, err
			}
			offset = 0
		}
	default:
		return nil, statusError(resp)
	}

	var total int64
	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable && resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	} else if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		total = offset
	}

	meter := newMeter(progress, e.interval, fetch.Progress{
		DownloadedBytes: offset,
		TotalBytes:      total,
		Filename:        final,
		Title:           title,
	})
	if err := meter.report(true); err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		w := newThrottledWriter(ctx, file, opts.RateLimitBytes)
		if err := copyWithProgress(ctx, w, resp.Body, meter); err != nil {
			return nil, err
		}
	}
	if err := meter.report(true); err != nil {
		return nil, err
	}

	if err := file.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(part, final); err != nil {
		return nil, fmt.Errorf("failed to finalize download: %w", err)
	}
	return &fetch.Result{OutputPath: final, Title: title}, nil
}

// ResolveOutputPath returns the first name a new download of url tries. It
// is derived from the URL alone.
func (e *Engine) ResolveOutputPath(ctx context.Context, rawURL string, opts fetch.Options) (string, error) {
	if isHLS(rawURL) {
		title, _ := nameFromURL(rawURL, "")
		return outputPath(opts, title, "ts"), nil
	}
	title, ext := nameFromURL(rawURL, "")
	return outputPath(opts, title, ext), nil
}

// Probe describes url without downloading it.
func (e *Engine) Probe(ctx context.Context, rawURL string) (*fetch.Metadata, error) {
	if isHLS(rawURL) {
		return e.probeHLS(ctx, rawURL)
	}

	req, err := e.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	title, ext := nameFromURL(rawURL, resp.Header.Get("Content-Type"))
	v := fetch.Variant{ID: "source", Ext: ext, Note: resp.Header.Get("Content-Type")}
	if resp.ContentLength > 0 {
		v.Filesize = resp.ContentLength
	}
	if strings.HasPrefix(v.Note, "audio/") {
		v.AudioCodec, v.VideoCodec = ext, "none"
	}
	return &fetch.Metadata{Title: title, Variants: []fetch.Variant{v}}, nil
}

func (e *Engine) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fetch.Permanent(fmt.Errorf("invalid url: %w", err))
	}
	req.Header.Set("User-Agent", e.ua)
	return req, nil
}

// statusError turns an unexpected HTTP status into an error. Statuses a retry
// may fix stay transient; anything else is permanent.
func statusError(resp *http.Response) error {
	err := fmt.Errorf("HTTP Error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if apperrors.HTTPRetryableStatus(resp.StatusCode) {
		return err
	}
	return fetch.Permanent(err)
}

// copyWithProgress copies src to dst and reports through meter. An error
// from the progress callback stops the copy and is returned as is.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, meter *meter) error {
	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			if err := meter.add(int64(n)); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("download interrupted: %w", rerr)
		}
	}
}

// meter accumulates bytes and forwards throttled progress reports.
type meter struct {
	fn       fetch.ProgressFunc
	interval time.Duration
	p        fetch.Progress
	start    time.Time
	base     int64
	last     time.Time
}

func newMeter(fn fetch.ProgressFunc, interval time.Duration, p fetch.Progress) *meter {
	now := time.Now()
	return &meter{fn: fn, interval: interval, p: p, start: now, base: p.DownloadedBytes}
}

func (m *meter) add(n int64) error {
	m.p.DownloadedBytes += n
	return m.report(false)
}

// report calls the progress function, at most once per interval unless force
// is set.
func (m *meter) report(force bool) error {
	now := time.Now()
	if !force && now.Sub(m.last) < m.interval {
		return nil
	}
	m.last = now

	if elapsed := now.Sub(m.start).Seconds(); elapsed > 0 {
		m.p.SpeedBps = float64(m.p.DownloadedBytes-m.base) / elapsed
	}
	m.p.ETASeconds = 0
	if m.p.SpeedBps > 0 && m.p.TotalBytes > m.p.DownloadedBytes {
		m.p.ETASeconds = int64(float64(m.p.TotalBytes-m.p.DownloadedBytes) / m.p.SpeedBps)
	}
	return m.fn(m.p)
}
