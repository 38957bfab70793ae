package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/viora/downloader/internal/download"
	apperrors "github.com/viora/downloader/internal/errors"
)

type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	failPuts  int
	failWith  error
	puts      int
	metaFails bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPuts > 0 {
		m.failPuts--
		return m.failWith
	}
	if m.metaFails && strings.HasSuffix(key, "metadata.json") {
		return errors.New("access denied")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Bucket() string                 { return "test" }

func fastRetry() *apperrors.RetryConfig {
	return &apperrors.RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
}

func doneSnapshot(t *testing.T, name, body string) download.TaskSnapshot {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return download.TaskSnapshot{
		ID:         7,
		URL:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		AudioOnly:  true,
		Status:     download.StatusDone,
		Title:      "Never Gonna",
		OutputPath: p,
	}
}

func TestIdentityHash(t *testing.T) {
	a := IdentityHash("https://x/y", true, "251")
	if a != IdentityHash(" https://x/y ", true, "251") {
		t.Error("hash should ignore surrounding whitespace")
	}
	if a == IdentityHash("https://x/y", false, "251") {
		t.Error("audio mode must change the hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d", len(a))
	}
}

func TestArchiver_Upload(t *testing.T) {
	store := newMemStore()
	a := NewArchiver(store, ArchiverOptions{KeyPrefix: "/media/", Retry: fastRetry()})
	snap := doneSnapshot(t, "song.mp3", "ID3audio")

	if err := a.Archive(context.Background(), snap); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	hash := IdentityHash(snap.URL, snap.AudioOnly, snap.Format)
	key := "media/" + hash + "/song.mp3"
	if string(store.objects[key]) != "ID3audio" {
		t.Fatalf("object %s = %q", key, store.objects[key])
	}
	if store.types[key] != "audio/mpeg" {
		t.Errorf("content type = %q", store.types[key])
	}

	var rec ArchiveRecord
	if err := json.Unmarshal(store.objects["media/"+hash+"/metadata.json"], &rec); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if rec.TaskID != 7 || rec.StorageKey != key || rec.Size != 8 || rec.Title != "Never Gonna" {
		t.Errorf("record = %+v", rec)
	}
	if _, err := os.Stat(snap.OutputPath); err != nil {
		t.Error("local file should be kept by default")
	}
}

func TestArchiver_Deduplicates(t *testing.T) {
	store := newMemStore()
	a := NewArchiver(store, ArchiverOptions{Retry: fastRetry(), RemoveLocal: true})
	snap := doneSnapshot(t, "a.mp3", "x")

	if err := a.Archive(context.Background(), snap); err != nil {
		t.Fatal(err)
	}
	puts := store.puts

	again := doneSnapshot(t, "a.mp3", "x")
	if err := a.Archive(context.Background(), again); err != nil {
		t.Fatal(err)
	}
	if store.puts != puts {
		t.Errorf("duplicate was uploaded again (%d puts, want %d)", store.puts, puts)
	}
	if _, err := os.Stat(again.OutputPath); !os.IsNotExist(err) {
		t.Error("RemoveLocal should delete the local copy of a duplicate too")
	}
}

func TestArchiver_RetriesTransientErrors(t *testing.T) {
	store := newMemStore()
	store.failPuts = 2
	store.failWith = errors.New("503 service unavailable")
	a := NewArchiver(store, ArchiverOptions{Retry: fastRetry()})

	if err := a.Archive(context.Background(), doneSnapshot(t, "v.mp4", "video")); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if len(store.objects) != 2 {
		t.Errorf("objects = %d, want file and metadata", len(store.objects))
	}
}

func TestArchiver_MetadataFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.metaFails = true
	a := NewArchiver(store, ArchiverOptions{Retry: fastRetry()})

	if err := a.Archive(context.Background(), doneSnapshot(t, "v.mp4", "video")); err == nil {
		t.Fatal("expected metadata failure")
	}
	if len(store.objects) != 0 {
		t.Errorf("orphaned objects left: %v", store.objects)
	}
}

func TestArchiver_RejectsUnfinished(t *testing.T) {
	a := NewArchiver(newMemStore(), ArchiverOptions{})
	snap := doneSnapshot(t, "x.mp3", "x")
	snap.Status = download.StatusFailed
	if err := a.Archive(context.Background(), snap); err == nil {
		t.Error("expected error for a task that is not DONE")
	}
}

func TestIsNotFoundError(t *testing.T) {
	if !isNotFoundError(errors.New("operation error S3: HeadObject, https response error StatusCode: 404, NotFound")) {
		t.Error("404 should be not found")
	}
	if isNotFoundError(errors.New("access denied")) {
		t.Error("access denied is not not-found")
	}
}
