package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Bounds for ConcurrentDownloads
const (
	MinConcurrentDownloads = 1
	MaxConcurrentDownloads = 10
)

// DefaultFilenameTemplate names files after the media title.
const DefaultFilenameTemplate = "%(title)s.%(ext)s"

// Settings are the user preferences a download attempt is configured from.
type Settings struct {
	DownloadFolder      string   `json:"download_folder"`
	FilenameTemplate    string   `json:"filename_template"`
	EnableSubtitles     bool     `json:"enable_subtitles"`
	SubtitleLangs       []string `json:"subtitle_langs"`
	BurnSubtitles       bool     `json:"burn_subtitles"`
	AudioOnly           bool     `json:"audio_only"`
	AudioFormat         string   `json:"audio_format"`
	MaxSpeedKBps        int      `json:"max_download_speed"`
	EnablePlaylist      bool     `json:"enable_playlist"`
	ConcurrentDownloads int      `json:"concurrent_downloads"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	home, _ := os.UserHomeDir()
	return Settings{
		DownloadFolder:      filepath.Join(home, "Downloads"),
		FilenameTemplate:    DefaultFilenameTemplate,
		SubtitleLangs:       []string{"en"},
		AudioFormat:         "mp3",
		ConcurrentDownloads: 1,
	}
}

// Normalize fills empty fields with defaults and clamps numeric ranges.
func (s *Settings) Normalize() {
	def := DefaultSettings()
	if s.DownloadFolder == "" {
		s.DownloadFolder = def.DownloadFolder
	}
	if s.FilenameTemplate == "" {
		s.FilenameTemplate = def.FilenameTemplate
	}
	if len(s.SubtitleLangs) == 0 {
		s.SubtitleLangs = def.SubtitleLangs
	}
	if s.AudioFormat == "" {
		s.AudioFormat = def.AudioFormat
	}
	if s.MaxSpeedKBps < 0 {
		s.MaxSpeedKBps = 0
	}
	if s.ConcurrentDownloads < MinConcurrentDownloads {
		s.ConcurrentDownloads = MinConcurrentDownloads
	}
	if s.ConcurrentDownloads > MaxConcurrentDownloads {
		s.ConcurrentDownloads = MaxConcurrentDownloads
	}
}

// clone copies the slice so snapshots never alias the store.
func (s Settings) clone() Settings {
	s.SubtitleLangs = append([]string(nil), s.SubtitleLangs...)
	return s
}

// SettingsStore keeps Settings in memory and persists them as JSON.
// An empty path keeps the store in memory only.
type SettingsStore struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// NewSettingsStore returns an in-memory store seeded with s.
func NewSettingsStore(s Settings) *SettingsStore {
	s.Normalize()
	return &SettingsStore{settings: s}
}

// LoadSettings reads path, layering its values over the defaults.
// A missing file is not an error.
func LoadSettings(path string) (*SettingsStore, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	s.Normalize()
	return &SettingsStore{path: path, settings: s}, nil
}

// Settings returns a snapshot of the current settings.
func (st *SettingsStore) Settings() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings.clone()
}

// Update applies fn to a copy of the settings, normalizes, persists and swaps it in.
func (st *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.settings.clone()
	fn(&next)
	next.Normalize()

	if st.path != "" {
		if err := writeJSON(st.path, next); err != nil {
			return st.settings.clone(), err
		}
	}
	st.settings = next
	return next.clone(), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, path)
}
