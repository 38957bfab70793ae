// Package fetch defines the contract between the download orchestrator and
// the engines that actually retrieve media.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// AbortReason tags why a progress callback stopped a fetch.
type AbortReason string

const (
	AbortCancel AbortReason = "cancel"
	AbortPause  AbortReason = "pause"
)

// AbortError is returned by a ProgressFunc to stop the engine. Engines must
// return it (or wrap it) unchanged so the caller can tell a user abort from a
// real failure.
type AbortError struct {
	Reason AbortReason
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("fetch aborted by user (%s)", e.Reason)
}

// Is matches any AbortError with the same reason.
func (e *AbortError) Is(target error) bool {
	t, ok := target.(*AbortError)
	return ok && t.Reason == e.Reason
}

var (
	ErrCanceled = &AbortError{Reason: AbortCancel}
	ErrPaused   = &AbortError{Reason: AbortPause}
)

// IsAbort reports whether err carries a user cancel or pause.
func IsAbort(err error) bool {
	var a *AbortError
	return errors.As(err, &a)
}

// PermanentError marks a failure that retrying will not fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Options is everything an engine needs to know to perform one attempt.
type Options struct {
	OutputDir        string
	FilenameTemplate string
	// ResumePath is the output path an earlier attempt of the same download
	// reported. Engines that keep partial files resume from it.
	ResumePath string

	// Format is an engine-specific variant selector. Empty lets the engine choose.
	Format         string
	AudioOnly      bool
	AudioFormat    string
	AudioQuality   string
	WriteSubtitles bool
	SubtitleLangs  []string
	EmbedSubtitles bool
	RateLimitBytes int64
	AllowPlaylist  bool
}

// Progress is one progress report from an engine. Zero values mean unknown.
type Progress struct {
	DownloadedBytes int64
	TotalBytes      int64
	SpeedBps        float64
	ETASeconds      int64

	// Filename is the path the engine is writing to, when known.
	Filename string
	Title    string
}

// ProgressFunc is called by engines while a fetch runs. A non-nil return
// value aborts the fetch and must be returned by Fetch.
type ProgressFunc func(Progress) error

// Result describes a completed fetch.
type Result struct {
	OutputPath string
	Title      string
}

// Variant is one selectable format of a remote resource.
type Variant struct {
	ID         string  `json:"id"`
	Ext        string  `json:"ext,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
	Height     int     `json:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	AudioCodec string  `json:"acodec,omitempty"`
	VideoCodec string  `json:"vcodec,omitempty"`
	Bitrate    float64 `json:"tbr,omitempty"`
	Filesize   int64   `json:"filesize,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// AudioOnly reports whether the variant carries audio and no video.
func (v Variant) AudioOnly() bool {
	return v.VideoCodec == "none" && v.AudioCodec != "" && v.AudioCodec != "none"
}

// Metadata is what Probe learns about a resource without downloading it.
type Metadata struct {
	Title        string    `json:"title"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Duration     int       `json:"duration,omitempty"`
	Variants     []Variant `json:"variants,omitempty"`
}

// Engine performs downloads. Fetch blocks until completion, failure or an
// abort returned by progress.
type Engine interface {
	Fetch(ctx context.Context, url string, opts Options, progress ProgressFunc) (*Result, error)
	ResolveOutputPath(ctx context.Context, url string, opts Options) (string, error)
	Probe(ctx context.Context, url string) (*Metadata, error)
}
