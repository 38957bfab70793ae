package fetch

import (
	"context"
	"fmt"

	"github.com/viora/downloader/internal/validators"
)

// Router is an Engine that dispatches each URL to the engine registered
// for its source type, falling back to a default engine.
type Router struct {
	registry *validators.Registry
	routes   map[validators.SourceType]Engine
	fallback Engine
}

// NewRouter creates a router. fallback handles every source without a route.
func NewRouter(registry *validators.Registry, fallback Engine) *Router {
	if registry == nil {
		registry = validators.DefaultRegistry()
	}
	return &Router{
		registry: registry,
		routes:   make(map[validators.SourceType]Engine),
		fallback: fallback,
	}
}

// Route registers e for the given source types.
func (r *Router) Route(e Engine, sources ...validators.SourceType) *Router {
	for _, s := range sources {
		r.routes[s] = e
	}
	return r
}

// EngineFor returns the engine that would handle url.
func (r *Router) EngineFor(url string) (Engine, error) {
	res := r.registry.Validate(url)
	if !res.Valid {
		return nil, Permanent(fmt.Errorf("unsupported url %q: %s", url, res.Error))
	}
	if e, ok := r.routes[res.SourceType]; ok {
		return e, nil
	}
	if r.fallback == nil {
		return nil, Permanent(fmt.Errorf("no engine for source %s", res.SourceType))
	}
	return r.fallback, nil
}

func (r *Router) Fetch(ctx context.Context, url string, opts Options, progress ProgressFunc) (*Result, error) {
	e, err := r.EngineFor(url)
	if err != nil {
		return nil, err
	}
	return e.Fetch(ctx, url, opts, progress)
}

func (r *Router) ResolveOutputPath(ctx context.Context, url string, opts Options) (string, error) {
	e, err := r.EngineFor(url)
	if err != nil {
		return "", err
	}
	return e.ResolveOutputPath(ctx, url, opts)
}

func (r *Router) Probe(ctx context.Context, url string) (*Metadata, error) {
	e, err := r.EngineFor(url)
	if err != nil {
		return nil, err
	}
	return e.Probe(ctx, url)
}
