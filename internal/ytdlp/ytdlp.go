// Package ytdlp is a fetch engine that drives the yt-dlp command line tool.
package ytdlp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/viora/downloader/internal/config"
	"github.com/viora/downloader/internal/fetch"
)

// Markers of the machine readable lines requested with --print and
// --progress-template.
const (
	progressMarker = "viora-progress"
	titleMarker    = "viora-title"
	pathMarker     = "viora-path"

	progressTemplate = "download:" + progressMarker +
		" %(progress.downloaded_bytes)s/%(progress.total_bytes)s/%(progress.total_bytes_estimate)s" +
		"/%(progress.speed)s/%(progress.eta)s %(progress.filename)s"

	stderrTailLines = 40
)

// Config holds configuration for the yt-dlp engine
type Config struct {
	// YtdlpPath is the path to yt-dlp binary (default: "yt-dlp")
	YtdlpPath string
	// ExtraArgs are appended to every invocation, before the URL.
	ExtraArgs []string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		YtdlpPath: "yt-dlp",
	}
}

// Engine implements fetch.Engine on top of yt-dlp.
type Engine struct {
	cfg *Config
}

// New creates a new yt-dlp engine
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = "yt-dlp"
	}

	// Verify yt-dlp is available
	if _, err := exec.LookPath(cfg.YtdlpPath); err != nil {
		return nil, ErrYtdlpNotFound
	}

	return &Engine{cfg: cfg}, nil
}

// Fetch downloads url. Progress lines are forwarded to progress; when it
// returns an error the yt-dlp process is killed and that error is returned.
func (e *Engine) Fetch(ctx context.Context, sourceURL string, opts fetch.Options, progress fetch.ProgressFunc) (*fetch.Result, error) {
	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create download folder: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.YtdlpPath, e.downloadArgs(sourceURL, opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &DownloadError{URL: sourceURL, Message: "failed to create stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &DownloadError{URL: sourceURL, Message: "failed to create stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, categorizeError(sourceURL, err, "")
	}

	lines := make(chan string)
	tail := newTail(stderrTailLines)
	var readers sync.WaitGroup
	readers.Add(2)
	go scanLines(stdout, lines, nil, &readers)
	go scanLines(stderr, lines, tail, &readers)
	go func() {
		readers.Wait()
		close(lines)
	}()

	var (
		result fetch.Result
		last   fetch.Progress
		abort  error
	)
	for line := range lines {
		if abort != nil {
			continue
		}
		ev, ok := parseLine(line)
		if !ok {
			continue
		}

		switch ev.kind {
		case eventTitle:
			result.Title = ev.text
			last.Title = ev.text
		case eventPath:
			result.OutputPath = ev.text
			last.Filename = ev.text
		case eventDestination:
			last.Filename = ev.text
		case eventProgress:
			p := ev.progress
			p.Title = last.Title
			if p.Filename == "" {
				p.Filename = last.Filename
			}
			last = p
		}

		if progress != nil && ev.kind != eventTitle {
			if err := progress(last); err != nil {
				abort = err
				cancel()
			}
		}
	}

	waitErr := cmd.Wait()
	if abort != nil {
		return nil, abort
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, categorizeError(sourceURL, waitErr, tail.String())
	}

	if result.OutputPath == "" {
		result.OutputPath = last.Filename
	}
	return &result, nil
}

// ResolveOutputPath asks yt-dlp for the file name it would write, without
// downloading anything.
func (e *Engine) ResolveOutputPath(ctx context.Context, sourceURL string, opts fetch.Options) (string, error) {
	args := []string{"--print", "filename", "--no-warnings", "--skip-download"}
	args = append(args, selectionArgs(opts)...)
	args = append(args, e.cfg.ExtraArgs...)
	args = append(args, "--", sourceURL)

	out, err := e.output(ctx, sourceURL, args)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", &DownloadError{URL: sourceURL, Message: "yt-dlp printed no filename", Err: ErrDownloadFailed}
}

// Probe retrieves metadata for a URL without downloading
func (e *Engine) Probe(ctx context.Context, sourceURL string) (*fetch.Metadata, error) {
	args := []string{"--dump-json", "--no-download", "--no-warnings", "--no-playlist"}
	args = append(args, e.cfg.ExtraArgs...)
	args = append(args, "--", sourceURL)

	out, err := e.output(ctx, sourceURL, args)
	if err != nil {
		return nil, err
	}

	var ytdlpOutput YtdlpOutput
	if err := json.Unmarshal(out, &ytdlpOutput); err != nil {
		return nil, &DownloadError{URL: sourceURL, Message: "failed to parse metadata", Err: err}
	}
	return ytdlpOutput.ToMetadata(), nil
}

func (e *Engine) output(ctx context.Context, sourceURL string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.cfg.YtdlpPath, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, categorizeError(sourceURL, err, string(exitErr.Stderr))
		}
		return nil, categorizeError(sourceURL, err, "")
	}
	return out, nil
}

// downloadArgs builds the full argument list of a download run.
func (e *Engine) downloadArgs(sourceURL string, opts fetch.Options) []string {
	args := []string{
		"--newline",
		"--progress",
		"--no-simulate",
		"--no-color",
		"--no-warnings",
		"--progress-template", progressTemplate,
		"--print", "before_dl:" + titleMarker + " %(title)s",
		"--print", "after_move:" + pathMarker + " %(filepath)s",
	}
	args = append(args, selectionArgs(opts)...)

	if opts.AudioOnly {
		args = append(args, "--extract-audio")
		if opts.AudioFormat != "" {
			args = append(args, "--audio-format", opts.AudioFormat)
		}
		if opts.AudioQuality != "" {
			args = append(args, "--audio-quality", opts.AudioQuality)
		}
	}
	if opts.WriteSubtitles {
		args = append(args, "--write-subs")
		if len(opts.SubtitleLangs) > 0 {
			args = append(args, "--sub-langs", strings.Join(opts.SubtitleLangs, ","))
		}
		if opts.EmbedSubtitles {
			args = append(args, "--embed-subs")
		}
	}
	if opts.RateLimitBytes > 0 {
		args = append(args, "--limit-rate", strconv.FormatInt(opts.RateLimitBytes, 10))
	}

	args = append(args, e.cfg.ExtraArgs...)
	return append(args, "--", sourceURL)
}

// selectionArgs are the options that decide which file is produced and
// where. They are shared by downloads and output path resolution.
func selectionArgs(opts fetch.Options) []string {
	args := []string{"-f", formatSelector(opts), "-o", outputTemplate(opts)}
	if opts.AllowPlaylist {
		args = append(args, "--yes-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	return args
}

func formatSelector(opts fetch.Options) string {
	if opts.Format != "" {
		return opts.Format
	}
	if opts.AudioOnly {
		return "bestaudio/best"
	}
	return "bestvideo+bestaudio/best"
}

func outputTemplate(opts fetch.Options) string {
	tmpl := opts.FilenameTemplate
	if tmpl == "" {
		tmpl = config.DefaultFilenameTemplate
	}
	if opts.OutputDir == "" {
		return tmpl
	}
	return filepath.Join(opts.OutputDir, tmpl)
}

type eventKind int

const (
	eventProgress eventKind = iota + 1
	eventTitle
	eventPath
	eventDestination
)

type lineEvent struct {
	kind     eventKind
	progress fetch.Progress
	text     string
}

// parseLine extracts an event from one line of yt-dlp output.
func parseLine(line string) (lineEvent, bool) {
	line = strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(line, progressMarker+" "):
		p, ok := parseProgress(strings.TrimPrefix(line, progressMarker+" "))
		return lineEvent{kind: eventProgress, progress: p}, ok

	case strings.HasPrefix(line, titleMarker+" "):
		return lineEvent{kind: eventTitle, text: strings.TrimPrefix(line, titleMarker+" ")}, true

	case strings.HasPrefix(line, pathMarker+" "):
		return lineEvent{kind: eventPath, text: strings.TrimPrefix(line, pathMarker+" ")}, true

	// [download] Destination: /x/a.webm, [ExtractAudio] Destination: /x/a.mp3
	case strings.HasPrefix(line, "[") && strings.Contains(line, "] Destination: "):
		_, dest, _ := strings.Cut(line, "] Destination: ")
		return lineEvent{kind: eventDestination, text: strings.TrimSpace(dest)}, dest != ""

	// [Merger] Merging formats into "/x/a.mkv"
	case strings.HasPrefix(line, "[Merger] Merging formats into "):
		dest := strings.Trim(strings.TrimPrefix(line, "[Merger] Merging formats into "), `"`)
		return lineEvent{kind: eventDestination, text: dest}, dest != ""
	}
	return lineEvent{}, false
}

// parseProgress parses "downloaded/total/estimate/speed/eta filename" where
// unknown values are printed as NA.
func parseProgress(s string) (fetch.Progress, bool) {
	nums, filename, _ := strings.Cut(s, " ")
	fields := strings.Split(nums, "/")
	if len(fields) != 5 {
		return fetch.Progress{}, false
	}

	p := fetch.Progress{
		DownloadedBytes: int64(parseNumber(fields[0])),
		TotalBytes:      int64(parseNumber(fields[1])),
		SpeedBps:        parseNumber(fields[3]),
		ETASeconds:      int64(parseNumber(fields[4])),
		Filename:        strings.TrimSpace(filename),
	}
	if p.TotalBytes <= 0 {
		p.TotalBytes = int64(parseNumber(fields[2]))
	}
	return p, true
}

func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func scanLines(r io.Reader, out chan<- string, tail *tail, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			tail.add(line)
		}
		out <- line
	}
}

// tail keeps the last n lines written to it.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
