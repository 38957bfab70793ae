// Package playlist expands YouTube playlist URLs into watch URLs.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/viora/downloader/internal/logger"
	"github.com/viora/downloader/internal/validators"
)

const (
	DefaultTimeout = 60 * time.Second

	watchURLTemplate = "https://www.youtube.com/watch?v=%s"
)

var ErrNotPlaylist = errors.New("url is not a playlist")

// Entry is one video of a playlist.
type Entry struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// lister fetches up to limit items of a playlist; 0 means all.
type lister func(ctx context.Context, playlistID string, limit int) ([]Entry, error)

func libraryLister(ctx context.Context, playlistID string, limit int) ([]Entry, error) {
	items, err := ytdlp.New().GetPlaylistItemsAll(ctx, playlistID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		out = append(out, Entry{VideoID: it.VideoID, Title: it.Title})
	}
	return out, nil
}

// Config holds configuration for the expander
type Config struct {
	Timeout time.Duration
	// Limit caps the number of entries. Zero expands the whole playlist.
	Limit    int
	Registry *validators.Registry
}

// Expander implements download.PlaylistExpander.
type Expander struct {
	timeout  time.Duration
	limit    int
	registry *validators.Registry
	list     lister
	log      *logger.Logger
}

// New creates an expander backed by the ytdlp playlist client.
func New(cfg *Config) *Expander {
	if cfg == nil {
		cfg = &Config{}
	}
	e := &Expander{
		timeout:  cfg.Timeout,
		limit:    cfg.Limit,
		registry: cfg.Registry,
		list:     libraryLister,
		log:      logger.Default().WithComponent("playlist"),
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.registry == nil {
		e.registry = validators.DefaultRegistry()
	}
	return e
}

// Entries lists the videos of the playlist named by rawURL.
func (e *Expander) Entries(ctx context.Context, rawURL string) ([]Entry, error) {
	res := e.registry.Validate(rawURL)
	if !res.Valid {
		return nil, fmt.Errorf("invalid playlist url: %s", res.Error)
	}
	if !res.IsPlaylist() || res.PlaylistID == "" {
		return nil, ErrNotPlaylist
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	items, err := e.list(ctx, res.PlaylistID, e.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}

	seen := make(map[string]bool, len(items))
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		if it.VideoID == "" || seen[it.VideoID] {
			continue
		}
		seen[it.VideoID] = true
		it.URL = fmt.Sprintf(watchURLTemplate, it.VideoID)
		out = append(out, it)
	}

	e.log.Info(ctx, "playlist expanded", map[string]interface{}{
		"playlist_id": res.PlaylistID,
		"entries":     len(out),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return out, nil
}

// Expand returns the watch URLs of a playlist. A URL that names a single
// item expands to itself.
func (e *Expander) Expand(ctx context.Context, rawURL string) ([]string, error) {
	entries, err := e.Entries(ctx, rawURL)
	if errors.Is(err, ErrNotPlaylist) {
		return []string{rawURL}, nil
	}
	if err != nil {
		return nil, err
	}

	urls := make([]string, len(entries))
	for i, en := range entries {
		urls[i] = en.URL
	}
	return urls, nil
}
