package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/viora/downloader/internal/db"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read() on empty store error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %d", len(got))
	}

	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		e := Entry{TaskID: int64(i), Title: "t", URL: "https://example.com", File: "/tmp/x.mp3", When: when, AudioOnly: i%2 == 0}
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err = s.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].TaskID != 1 || got[2].TaskID != 3 {
		t.Errorf("entries not oldest-first: %+v", got)
	}
	if !got[1].AudioOnly {
		t.Error("audio_only flag lost")
	}
	if !got[0].When.Equal(when) {
		t.Errorf("When = %v, want %v", got[0].When, when)
	}
}

func TestFileStore(t *testing.T) {
	testStore(t, NewFileStore(filepath.Join(t.TempDir(), "sub", "history.json")))
}

func TestFileStore_Cap(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "history.json"))
	s.max = 5
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		if err := s.Append(ctx, Entry{TaskID: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := s.Read(ctx)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].TaskID != 4 || got[4].TaskID != 8 {
		t.Errorf("expected the last five entries, got first=%d last=%d", got[0].TaskID, got[4].TaskID)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Read(context.Background()); err == nil {
		t.Error("expected parse error")
	}
}

func TestSQLStore_SQLite(t *testing.T) {
	ctx := context.Background()
	database, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	testStore(t, NewSQLStore(database))
}

func TestSQLStore_Cap(t *testing.T) {
	ctx := context.Background()
	database, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	s := NewSQLStore(database)
	s.max = 2
	for i := 1; i <= 4; i++ {
		if err := s.Append(ctx, Entry{TaskID: int64(i), URL: "u", When: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].TaskID != 3 {
		t.Errorf("expected entries 3 and 4, got %+v", got)
	}
}

func TestSQLStore_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres test")
	}
	ctx := context.Background()
	database, err := db.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	database.ExecContext(ctx, "DELETE FROM download_history")

	testStore(t, NewSQLStore(database))
}
