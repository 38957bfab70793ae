package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"QUEUE_BACKEND", "MAX_RETRIES", "POLL_INTERVAL", "AUTO_RETRY"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.QueueBackend != QueueMemory {
		t.Errorf("QueueBackend = %q, want %q", cfg.QueueBackend, QueueMemory)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.PollInterval != 200*time.Millisecond {
		t.Errorf("PollInterval = %v, want 200ms", cfg.PollInterval)
	}
	if !cfg.AutoRetry {
		t.Error("AutoRetry should default to true")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", QueueRedis)
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("POLL_INTERVAL", "1s")
	t.Setenv("AUTO_RETRY", "false")
	t.Setenv("DRAIN_POLICY", "requeue")

	cfg := Load()
	if cfg.QueueBackend != QueueRedis || cfg.MaxRetries != 5 || cfg.PollInterval != time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.AutoRetry {
		t.Error("AutoRetry should be false")
	}
	if cfg.DrainPolicy != "requeue" {
		t.Errorf("DrainPolicy = %q", cfg.DrainPolicy)
	}
}

func TestSettings_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Settings
		want func(Settings) bool
	}{
		{"clamps high concurrency", Settings{ConcurrentDownloads: 50}, func(s Settings) bool { return s.ConcurrentDownloads == MaxConcurrentDownloads }},
		{"clamps zero concurrency", Settings{}, func(s Settings) bool { return s.ConcurrentDownloads == MinConcurrentDownloads }},
		{"negative speed", Settings{MaxSpeedKBps: -5}, func(s Settings) bool { return s.MaxSpeedKBps == 0 }},
		{"default template", Settings{}, func(s Settings) bool { return s.FilenameTemplate == DefaultFilenameTemplate }},
		{"default langs", Settings{}, func(s Settings) bool { return len(s.SubtitleLangs) == 1 && s.SubtitleLangs[0] == "en" }},
		{"keeps audio format", Settings{AudioFormat: "opus"}, func(s Settings) bool { return s.AudioFormat == "opus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.in
			s.Normalize()
			if !tt.want(s) {
				t.Errorf("unexpected settings after Normalize: %+v", s)
			}
		})
	}
}

func TestSettingsStore_LoadAndUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"download_folder":"/data","audio_format":"m4a"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	got := st.Settings()
	if got.DownloadFolder != "/data" || got.AudioFormat != "m4a" {
		t.Errorf("loaded settings = %+v", got)
	}
	if got.FilenameTemplate != DefaultFilenameTemplate {
		t.Errorf("defaults not layered: template = %q", got.FilenameTemplate)
	}

	if _, err := st.Update(func(s *Settings) { s.ConcurrentDownloads = 4 }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reloaded, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Settings().ConcurrentDownloads != 4 {
		t.Errorf("update was not persisted: %+v", reloaded.Settings())
	}
}

func TestSettingsStore_SnapshotIsolation(t *testing.T) {
	st := NewSettingsStore(Settings{SubtitleLangs: []string{"en", "fr"}})

	snap := st.Settings()
	snap.SubtitleLangs[0] = "de"

	if st.Settings().SubtitleLangs[0] != "en" {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	st, err := LoadSettings(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if st.Settings().AudioFormat != "mp3" {
		t.Errorf("expected defaults, got %+v", st.Settings())
	}
}
