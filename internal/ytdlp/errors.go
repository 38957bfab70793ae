package ytdlp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/viora/downloader/internal/fetch"
)

var (
	// ErrURLNotSupported indicates no yt-dlp extractor handles the URL
	ErrURLNotSupported = errors.New("url not supported")

	// ErrVideoUnavailable indicates the video/audio is not available
	ErrVideoUnavailable = errors.New("video unavailable")

	// ErrVideoPrivate indicates the video is private
	ErrVideoPrivate = errors.New("video is private")

	// ErrAgeRestricted indicates the content is age-restricted
	ErrAgeRestricted = errors.New("content is age-restricted")

	// ErrNetworkError indicates a network-related error
	ErrNetworkError = errors.New("network error")

	// ErrYtdlpNotFound indicates yt-dlp is not installed
	ErrYtdlpNotFound = errors.New("yt-dlp not found in PATH")

	// ErrDownloadFailed indicates the download failed
	ErrDownloadFailed = errors.New("download failed")
)

// DownloadError wraps an error with additional context
type DownloadError struct {
	URL     string
	Message string
	Err     error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// categorizeError converts yt-dlp errors into specific error types. Failures
// that a retry cannot fix are marked permanent.
func categorizeError(sourceURL string, err error, stderr string) error {
	stderrLower := strings.ToLower(stderr)

	switch {
	case strings.Contains(stderrLower, "video unavailable") ||
		strings.Contains(stderrLower, "this video is unavailable"):
		return fetch.Permanent(&DownloadError{URL: sourceURL, Message: "video unavailable", Err: ErrVideoUnavailable})

	case strings.Contains(stderrLower, "private video") ||
		strings.Contains(stderrLower, "is private"):
		return fetch.Permanent(&DownloadError{URL: sourceURL, Message: "video is private", Err: ErrVideoPrivate})

	case strings.Contains(stderrLower, "age-restricted") ||
		strings.Contains(stderrLower, "sign in to confirm your age"):
		return fetch.Permanent(&DownloadError{URL: sourceURL, Message: "content is age-restricted", Err: ErrAgeRestricted})

	case strings.Contains(stderrLower, "unsupported url") ||
		strings.Contains(stderrLower, "no suitable extractor"):
		return fetch.Permanent(&DownloadError{URL: sourceURL, Message: "url not supported", Err: ErrURLNotSupported})

	case strings.Contains(stderrLower, "unable to download") ||
		strings.Contains(stderrLower, "connection") ||
		strings.Contains(stderrLower, "network"):
		return &DownloadError{URL: sourceURL, Message: "network error", Err: ErrNetworkError}

	default:
		msg := lastErrorLine(stderr)
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return &DownloadError{URL: sourceURL, Message: "yt-dlp", Err: fmt.Errorf("%w: %s", ErrDownloadFailed, msg)}
	}
}

// lastErrorLine returns the last "ERROR:" line of yt-dlp output, or the last
// non-empty line when there is none.
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(l, "ERROR:"))
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
