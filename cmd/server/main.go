package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viora/downloader/internal/api"
	"github.com/viora/downloader/internal/auth"
	"github.com/viora/downloader/internal/cache"
	"github.com/viora/downloader/internal/config"
	"github.com/viora/downloader/internal/db"
	"github.com/viora/downloader/internal/direct"
	"github.com/viora/downloader/internal/download"
	"github.com/viora/downloader/internal/fetch"
	"github.com/viora/downloader/internal/health"
	"github.com/viora/downloader/internal/history"
	"github.com/viora/downloader/internal/logger"
	"github.com/viora/downloader/internal/metrics"
	"github.com/viora/downloader/internal/playlist"
	"github.com/viora/downloader/internal/storage"
	"github.com/viora/downloader/internal/validators"
	"github.com/viora/downloader/internal/websocket"
	"github.com/viora/downloader/internal/ytdlp"
)

const version = "0.4.0"

func main() {
	cfg := config.Load()
	logger.SetDefault(logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "server"))
	log := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "server failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return err
	}

	hist, database, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	var (
		queue    download.Queue
		redisQ   *download.RedisQueue
		redisCli *redis.Client
	)
	if cfg.QueueBackend == config.QueueRedis {
		redisQ, err = download.NewRedisQueue(cfg.RedisURL)
		if err != nil {
			return err
		}
		queue = redisQ
		redisCli = redisQ.Client()
	}

	engine := buildEngine(cfg, redisCli, log)

	var archiver download.Archiver
	var store storage.ObjectStore
	if cfg.ArchiveEnabled {
		store, err = openObjectStore(ctx, cfg)
		if err != nil {
			return err
		}
		archiver = storage.NewArchiver(store, storage.ArchiverOptions{})
	}

	expander := playlist.New(&playlist.Config{})

	hub := websocket.NewHub()
	m := metrics.New()
	notifiers := download.MultiNotifier{m}
	if redisQ != nil && cfg.PublishProgress {
		// the hub follows the shared channel so it also sees other processes
		notifiers = append(notifiers, download.NewRedisNotifier(redisQ))
	} else {
		notifiers = append(notifiers, hub)
	}

	svc, err := download.NewService(download.Config{
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		AutoRetry:    cfg.AutoRetry,
		RetryDelay:   cfg.RetryDelay,
		DrainPolicy:  download.DrainPolicy(cfg.DrainPolicy),
	}, download.Deps{
		Queue:    queue,
		Engine:   engine,
		Settings: settings,
		History:  hist,
		Notifier: notifiers,
		Archiver: archiver,
		Expander: expander,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	authService, err := auth.NewService(cfg.AdminPassword, cfg.JWTSecret)
	if err != nil {
		return err
	}
	if !authService.Enabled() {
		log.Warn(ctx, "ADMIN_PASSWORD is not set, the API is open to anyone who can reach it")
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)
	if redisQ != nil && cfg.PublishProgress {
		sub := download.NewRedisNotifier(redisQ).Subscribe(hubCtx)
		defer sub.Close()
		go hub.Relay(hubCtx, sub.Channel())
	}

	m.GaugeFunc("workers", func() float64 { return float64(svc.Workers()) })
	m.GaugeFunc("websocket_clients", func() float64 { return float64(hub.TotalClients()) })
	m.GaugeFunc("queue_length", func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, _ := svc.QueueLen(ctx)
		return float64(n)
	})

	checks := &health.CheckerConfig{
		Redis:   redisCli,
		Version: version,
		Extra: map[string]health.CheckFunc{
			"queue": func(ctx context.Context) error {
				_, err := svc.QueueLen(ctx)
				return err
			},
		},
	}
	if database != nil {
		checks.DB = database.DB
	}
	if store != nil {
		checks.StorageCheck = store.Ping
	}

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Settings:       settings,
		Expander:       expander,
		Auth:           authService,
		Health:         health.NewChecker(checks),
		Metrics:        m,
		WebSocket:      http.HandlerFunc(websocket.NewHandler(hub, authService).ServeWS),
		AllowedOrigins: []string{"*"},
		ResizeWait:     cfg.ResizeWait,
		Logger:         log,
	})

	if err := svc.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", map[string]interface{}{
			"addr":          cfg.ServerAddr,
			"queue_backend": cfg.QueueBackend,
			"history":       cfg.HistoryDriver,
			"archive":       cfg.ArchiveEnabled,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ResizeWait)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "http shutdown failed", err)
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "download service shutdown failed", err)
	}
	return nil
}

// openHistory picks the history backend. The returned *db.DB is nil for the
// file store.
func openHistory(ctx context.Context, cfg *config.Config) (download.HistoryStore, *db.DB, error) {
	var (
		database *db.DB
		err      error
	)
	switch cfg.HistoryDriver {
	case config.HistorySQLite:
		database, err = db.OpenSQLite(ctx, cfg.SQLitePath)
	case config.HistoryPostgres:
		database, err = db.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return history.NewFileStore(cfg.HistoryFile), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	return history.NewSQLStore(database), database, nil
}

// buildEngine routes direct files and HLS playlists to the built-in engine
// and everything else to yt-dlp. Probe results are cached when redis is
// available.
func buildEngine(cfg *config.Config, redisCli *redis.Client, log *logger.Logger) fetch.Engine {
	var fallback fetch.Engine
	yt, err := ytdlp.New(&ytdlp.Config{YtdlpPath: cfg.YtdlpPath})
	if err != nil {
		log.Warn(context.Background(), "yt-dlp unavailable, only direct and HLS URLs can be downloaded", map[string]interface{}{
			"path":  cfg.YtdlpPath,
			"error": err.Error(),
		})
	} else {
		fallback = yt
	}

	var engine fetch.Engine = fetch.NewRouter(validators.DefaultRegistry(), fallback).
		Route(direct.New(nil), validators.SourceDirect, validators.SourceHLS)

	if redisCli != nil && cfg.ProbeCacheTTL > 0 {
		engine = cache.WrapEngine(engine, cache.NewFromClient(redisCli), cfg.ProbeCacheTTL)
	}
	return engine
}

func openObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	scfg := &storage.Config{
		Endpoint:  cfg.ArchiveEndpoint,
		Region:    cfg.ArchiveRegion,
		AccessKey: cfg.ArchiveAccessKey,
		SecretKey: cfg.ArchiveSecretKey,
		Bucket:    cfg.ArchiveBucket,
		UseSSL:    cfg.ArchiveUseSSL,
	}
	if cfg.ArchiveBackend == "s3" {
		return storage.NewS3Storage(scfg), nil
	}

	client, err := storage.New(scfg)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
