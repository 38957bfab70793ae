package api

import (
	"net/http"
	"time"

	"github.com/viora/downloader/internal/auth"
	"github.com/viora/downloader/internal/config"
	"github.com/viora/downloader/internal/download"
	apperrors "github.com/viora/downloader/internal/errors"
	"github.com/viora/downloader/internal/health"
	"github.com/viora/downloader/internal/logger"
	"github.com/viora/downloader/internal/metrics"
	"github.com/viora/downloader/internal/middleware"
	"github.com/viora/downloader/internal/playlist"
)

// RouterConfig collects what the HTTP surface is built from. Only Service
// and Settings are required.
type RouterConfig struct {
	Service        *download.Service
	Settings       *config.SettingsStore
	Expander       *playlist.Expander
	Auth           *auth.Service
	Health         *health.Checker
	Metrics        *metrics.Metrics
	WebSocket      http.Handler
	AllowedOrigins []string
	// ResizeWait bounds how long a resize request waits for busy workers.
	ResizeWait time.Duration
	Logger     *logger.Logger
}

type Router struct {
	mux              *http.ServeMux
	cfg              RouterConfig
	authHandlers     *auth.Handlers
	taskHandlers     *TaskHandlers
	settingsHandlers *SettingsHandlers
	log              *logger.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	if cfg.Auth == nil {
		// an empty password leaves the API open
		cfg.Auth, _ = auth.NewService("", "")
	}

	r := &Router{
		mux:              http.NewServeMux(),
		cfg:              cfg,
		authHandlers:     auth.NewHandlers(cfg.Auth),
		taskHandlers:     NewTaskHandlers(cfg.Service, cfg.Expander, cfg.ResizeWait),
		settingsHandlers: NewSettingsHandlers(cfg.Settings, cfg.Service, cfg.ResizeWait),
		log:              log.WithComponent("api"),
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handler returns the router wrapped in the full middleware stack.
func (r *Router) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		apperrors.RequestIDMiddleware,
		logger.RecoveryMiddleware,
		logger.LoggingMiddleware,
	}
	if r.cfg.Metrics != nil {
		mws = append(mws, metrics.MetricsMiddleware(r.cfg.Metrics))
	}
	mws = append(mws,
		middleware.Timing(r.log),
		middleware.CORS(r.cfg.AllowedOrigins),
		middleware.Gzip,
		middleware.ETag("/api/"),
	)
	return middleware.Chain(r, mws...)
}

func (r *Router) setupRoutes() {
	if r.cfg.Health != nil {
		h := health.NewHandler(r.cfg.Health)
		r.mux.HandleFunc("GET /health", h.HealthHandler)
		r.mux.HandleFunc("GET /health/live", h.LivenessHandler)
		r.mux.HandleFunc("GET /health/ready", h.ReadinessHandler)
	}
	if r.cfg.Metrics != nil {
		r.mux.HandleFunc("GET /metrics", r.cfg.Metrics.Handler())
	}
	if r.cfg.WebSocket != nil {
		r.mux.Handle("GET /ws", r.cfg.WebSocket)
	}

	// Auth routes (no auth required)
	r.mux.HandleFunc("POST /api/auth/login", apperrors.HandleFunc(r.authHandlers.Login))
	r.mux.HandleFunc("POST /api/auth/refresh", apperrors.HandleFunc(r.authHandlers.Refresh))

	// Auth routes (auth required)
	r.handle("POST /api/auth/logout", r.authHandlers.Logout)

	th := r.taskHandlers
	r.handle("GET /api/tasks", th.List)
	r.handle("POST /api/tasks", th.Enqueue)
	r.handle("POST /api/tasks/batch", th.EnqueueBatch)
	r.handle("POST /api/tasks/playlist", th.EnqueuePlaylist)
	r.handle("POST /api/tasks/cancel-all", th.CancelAll)
	r.handle("POST /api/tasks/pause-all", th.PauseAll)
	r.handle("POST /api/tasks/resume-all", th.ResumeAll)
	r.handle("DELETE /api/tasks/completed", th.RemoveCompleted)
	r.handle("GET /api/tasks/{id}", th.Get)
	r.handle("DELETE /api/tasks/{id}", th.Remove)
	r.handle("POST /api/tasks/{id}/cancel", th.Cancel)
	r.handle("POST /api/tasks/{id}/pause", th.Pause)
	r.handle("POST /api/tasks/{id}/resume", th.Resume)
	r.handle("POST /api/tasks/{id}/retry", th.Retry)
	r.handle("GET /api/tasks/{id}/file", th.File)

	r.handle("GET /api/probe", th.Probe)
	r.handle("GET /api/playlist", th.PlaylistEntries)
	r.handle("GET /api/history", th.History)
	r.handle("GET /api/workers", th.Workers)
	r.handle("PUT /api/workers", th.ResizeWorkers)

	r.handle("GET /api/settings", r.settingsHandlers.Get)
	r.handle("PUT /api/settings", r.settingsHandlers.Update)
}

// handle registers an authenticated route.
func (r *Router) handle(pattern string, h apperrors.Handler) {
	r.mux.Handle(pattern, auth.Middleware(r.cfg.Auth)(apperrors.HandleFunc(h)))
}
