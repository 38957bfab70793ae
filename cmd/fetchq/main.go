// Command fetchq downloads a list of URLs through the download orchestrator
// and shows the combined progress until every task has settled.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/viora/downloader/internal/config"
	"github.com/viora/downloader/internal/direct"
	"github.com/viora/downloader/internal/download"
	"github.com/viora/downloader/internal/fetch"
	"github.com/viora/downloader/internal/history"
	"github.com/viora/downloader/internal/logger"
	"github.com/viora/downloader/internal/playlist"
	"github.com/viora/downloader/internal/validators"
	"github.com/viora/downloader/internal/ytdlp"
)

func main() {
	var (
		concurrency int
		urlsFile    string
		outputDir   string
		audioOnly   bool
		format      string
		maxRetries  int
		expand      bool
		verbose     bool
	)
	flag.IntVar(&concurrency, "c", 0, "Number of concurrent downloads (default: concurrent_downloads setting)")
	flag.StringVar(&urlsFile, "f", "", "Path to a text file with one URL per line")
	flag.StringVar(&outputDir, "o", "", "Output directory (default: download_folder setting)")
	flag.BoolVar(&audioOnly, "audio", false, "Extract audio only")
	flag.StringVar(&format, "format", "", "Format selector passed to the engine")
	flag.IntVar(&maxRetries, "retries", 3, "Automatic retries per task")
	flag.BoolVar(&expand, "playlist", false, "Expand playlist URLs into their entries")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	level := logger.LevelWarn
	if verbose {
		level = logger.LevelDebug
	}
	logger.SetDefault(logger.NewConsole(os.Stderr, level, "fetchq"))
	log := logger.Default()

	urls, err := collectURLs(flag.Args(), urlsFile)
	if err != nil {
		log.Error(context.Background(), "failed to read urls", err)
		os.Exit(2)
	}
	if len(urls) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	stored, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		log.Error(context.Background(), "failed to load settings", err)
		os.Exit(1)
	}
	s := stored.Settings()
	if outputDir != "" {
		s.DownloadFolder = outputDir
	}
	if audioOnly {
		s.AudioOnly = true
	}
	// flag overrides apply to this run only
	settings := config.NewSettingsStore(s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, runConfig{
		urls:        urls,
		concurrency: concurrency,
		audioOnly:   audioOnly,
		format:      format,
		maxRetries:  maxRetries,
		expand:      expand,
		ytdlpPath:   cfg.YtdlpPath,
		historyFile: cfg.HistoryFile,
		retryDelay:  cfg.RetryDelay,
	}, settings, log)
	stop()
	os.Exit(code)
}

type runConfig struct {
	urls        []string
	concurrency int
	audioOnly   bool
	format      string
	maxRetries  int
	expand      bool
	ytdlpPath   string
	historyFile string
	retryDelay  time.Duration
}

func run(ctx context.Context, rc runConfig, settings *config.SettingsStore, log *logger.Logger) int {
	var fallback fetch.Engine
	if yt, err := ytdlp.New(&ytdlp.Config{YtdlpPath: rc.ytdlpPath}); err == nil {
		fallback = yt
	} else {
		log.Warn(ctx, "yt-dlp unavailable, only direct and HLS URLs will work", map[string]interface{}{"error": err.Error()})
	}
	engine := fetch.NewRouter(validators.DefaultRegistry(), fallback).
		Route(direct.New(nil), validators.SourceDirect, validators.SourceHLS)

	tracker := newTracker(rc.maxRetries)
	svc, err := download.NewService(download.Config{
		Workers:    rc.concurrency,
		MaxRetries: rc.maxRetries,
		AutoRetry:  rc.maxRetries > 0,
		RetryDelay: rc.retryDelay,
	}, download.Deps{
		Engine:   engine,
		Settings: settings,
		History:  history.NewFileStore(rc.historyFile),
		Notifier: tracker,
		Expander: playlist.New(nil),
		Logger:   log,
	})
	if err != nil {
		log.Error(ctx, "failed to create download service", err)
		return 1
	}
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start workers", err)
		return 1
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Stop(stopCtx)
	}()

	var ids []int64
	for _, u := range rc.urls {
		if rc.expand {
			res, err := svc.EnqueuePlaylist(ctx, u, rc.audioOnly, rc.format)
			if err != nil {
				log.Warn(ctx, "skipping url", map[string]interface{}{"url": u, "error": err.Error()})
				continue
			}
			ids = append(ids, res.IDs...)
			continue
		}
		id, err := svc.Enqueue(ctx, u, rc.audioOnly, rc.format)
		if err != nil {
			log.Warn(ctx, "skipping url", map[string]interface{}{"url": u, "error": err.Error()})
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 2
	}

	bar := progressbar.NewOptions(len(ids)*100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	interrupted := false
	for {
		settled, total := tracker.progress(ids)
		bar.Describe(fmt.Sprintf("Downloading %d/%d", settled, len(ids)))
		bar.Set(total)
		if settled == len(ids) {
			break
		}

		select {
		case <-tracker.changed:
		case <-ctx.Done():
			if !interrupted {
				interrupted = true
				svc.CancelAll(context.Background())
			}
			// keep draining until the workers have acknowledged the cancel
			select {
			case <-tracker.changed:
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	return report(svc, ids)
}

// report prints one line per task and returns the exit code.
func report(svc *download.Service, ids []int64) int {
	code := 0
	for _, id := range ids {
		snap, err := svc.Get(id)
		if err != nil {
			continue
		}
		switch snap.Status {
		case download.StatusDone:
			fmt.Printf("done      %s -> %s\n", snap.Title, snap.OutputPath)
		case download.StatusCanceled:
			fmt.Printf("canceled  %s\n", snap.URL)
			code = 1
		default:
			fmt.Printf("failed    %s: %s\n", snap.URL, snap.Error)
			code = 1
		}
	}
	return code
}

// tracker keeps the latest snapshot of every task. Notify never blocks.
type tracker struct {
	maxRetries int
	changed    chan struct{}

	mu    sync.Mutex
	snaps map[int64]download.TaskSnapshot
}

func newTracker(maxRetries int) *tracker {
	return &tracker{
		maxRetries: maxRetries,
		changed:    make(chan struct{}, 1),
		snaps:      make(map[int64]download.TaskSnapshot),
	}
}

func (t *tracker) Notify(snap download.TaskSnapshot) {
	t.mu.Lock()
	t.snaps[snap.ID] = snap
	t.mu.Unlock()

	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// settled reports whether a task will not change again on its own.
func (t *tracker) settled(snap download.TaskSnapshot) bool {
	switch snap.Status {
	case download.StatusDone, download.StatusCanceled:
		return true
	case download.StatusFailed:
		return !snap.Retryable || snap.RetryCount >= t.maxRetries
	}
	return false
}

// progress returns how many of ids have settled and the summed percentage.
func (t *tracker) progress(ids []int64) (settled, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		snap, ok := t.snaps[id]
		if !ok {
			continue
		}
		if t.settled(snap) {
			settled++
			total += 100
			continue
		}
		total += int(snap.Progress)
	}
	return settled, total
}

func collectURLs(args []string, file string) ([]string, error) {
	urls := append([]string(nil), args...)
	if file == "" {
		return urls, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
