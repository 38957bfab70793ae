// Package history records finished downloads.
package history

import (
	"context"
	"time"
)

// MaxEntries is how many entries a store keeps; older ones are dropped.
const MaxEntries = 1000

// Entry is one completed download.
type Entry struct {
	TaskID    int64     `json:"task_id,omitempty"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	File      string    `json:"file"`
	Format    string    `json:"format,omitempty"`
	When      time.Time `json:"when"`
	AudioOnly bool      `json:"audio_only"`
	Subtitles bool      `json:"subs"`
}

// Store persists history entries. Read returns oldest first.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Read(ctx context.Context) ([]Entry, error)
}
