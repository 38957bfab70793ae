package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/viora/downloader/internal/download"
	apperrors "github.com/viora/downloader/internal/errors"
	"github.com/viora/downloader/internal/logger"
)

const defaultKeyPrefix = "downloads"

// ArchiveRecord is stored as metadata.json next to every archived file.
type ArchiveRecord struct {
	TaskID       int64     `json:"task_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	AudioOnly    bool      `json:"audio_only"`
	Format       string    `json:"format,omitempty"`
	Size         int64     `json:"size"`
	IdentityHash string    `json:"identity_hash"`
	StorageKey   string    `json:"storage_key"`
	ArchivedAt   time.Time `json:"archived_at"`
}

// ArchiverOptions tunes an Archiver. The zero value is usable.
type ArchiverOptions struct {
	KeyPrefix string
	// RemoveLocal deletes the local file once it is safely uploaded.
	RemoveLocal bool
	Retry       *apperrors.RetryConfig
}

// Archiver implements download.Archiver on top of an ObjectStore.
type Archiver struct {
	store       ObjectStore
	prefix      string
	removeLocal bool
	retry       *apperrors.RetryConfig
	log         *logger.Logger
}

func NewArchiver(store ObjectStore, opts ArchiverOptions) *Archiver {
	a := &Archiver{
		store:       store,
		prefix:      strings.Trim(opts.KeyPrefix, "/"),
		removeLocal: opts.RemoveLocal,
		retry:       opts.Retry,
		log:         logger.Default().WithComponent("archiver"),
	}
	if a.prefix == "" {
		a.prefix = defaultKeyPrefix
	}
	if a.retry == nil {
		a.retry = apperrors.StorageRetryConfig()
	}
	return a
}

// IdentityHash names one logical download: the same URL fetched with the same
// choices always lands on the same key.
func IdentityHash(url string, audioOnly bool, format string) string {
	hashInput := fmt.Sprintf("%s|%t|%s", strings.TrimSpace(url), audioOnly, strings.ToLower(strings.TrimSpace(format)))
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (a *Archiver) objectKey(hash, filename string) string {
	return path.Join(a.prefix, hash, filepath.Base(filename))
}

func (a *Archiver) metadataKey(hash string) string {
	return path.Join(a.prefix, hash, "metadata.json")
}

// Archive uploads a finished download and its metadata. A file already
// present under its identity key is not uploaded again.
func (a *Archiver) Archive(ctx context.Context, snap download.TaskSnapshot) error {
	if snap.Status != download.StatusDone || snap.OutputPath == "" {
		return fmt.Errorf("task %d has no finished output", snap.ID)
	}

	hash := IdentityHash(snap.URL, snap.AudioOnly, snap.Format)
	key := a.objectKey(hash, snap.OutputPath)

	exists, err := apperrors.RetryWithResult(ctx, a.retry, func(ctx context.Context) (bool, error) {
		return a.store.ObjectExists(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("failed to check existence: %w", err)
	}
	if exists {
		a.log.Info(ctx, "archive already present", map[string]interface{}{"key": key})
		return a.finish(ctx, snap.OutputPath)
	}

	info, err := os.Stat(snap.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(snap.OutputPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	start := time.Now()
	err = apperrors.Retry(ctx, a.retry, func(ctx context.Context) error {
		// every attempt needs a fresh reader
		file, err := os.Open(snap.OutputPath)
		if err != nil {
			return err
		}
		defer file.Close()
		return a.store.PutObject(ctx, key, file, info.Size(), contentType)
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", snap.OutputPath, err)
	}

	record := ArchiveRecord{
		TaskID:       snap.ID,
		URL:          snap.URL,
		Title:        snap.Title,
		AudioOnly:    snap.AudioOnly,
		Format:       snap.Format,
		Size:         info.Size(),
		IdentityHash: hash,
		StorageKey:   key,
		ArchivedAt:   time.Now().UTC(),
	}
	metadataJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	err = apperrors.Retry(ctx, a.retry, func(ctx context.Context) error {
		return a.store.PutObject(ctx, a.metadataKey(hash), bytes.NewReader(metadataJSON), int64(len(metadataJSON)), "application/json")
	})
	if err != nil {
		// no object may stay behind without its metadata.json
		_ = a.store.DeleteObject(ctx, key)
		return fmt.Errorf("failed to upload metadata: %w", err)
	}

	a.log.Info(ctx, "download archived", map[string]interface{}{
		"key":         key,
		"bucket":      a.store.Bucket(),
		"size":        info.Size(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return a.finish(ctx, snap.OutputPath)
}

func (a *Archiver) finish(ctx context.Context, localPath string) error {
	if !a.removeLocal {
		return nil
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		a.log.Warn(ctx, "failed to remove archived file", map[string]interface{}{"path": localPath, "error": err.Error()})
	}
	return nil
}
