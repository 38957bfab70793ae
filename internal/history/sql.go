package history

import (
	"context"
	"fmt"

	"github.com/viora/downloader/internal/db"
)

// SQLStore keeps history in the download_history table (postgres or sqlite).
type SQLStore struct {
	db  *db.DB
	max int
}

// NewSQLStore wraps an opened and migrated database.
func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database, max: MaxEntries}
}

func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO download_history (task_id, title, url, file, format, audio_only, subtitles, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		e.TaskID, e.Title, e.URL, e.File, e.Format, e.AudioOnly, e.Subtitles, e.When.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM download_history WHERE id NOT IN (
			SELECT id FROM download_history ORDER BY id DESC LIMIT ?
		)`), s.max)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return nil
}

func (s *SQLStore) Read(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, title, url, file, format, audio_only, subtitles, finished_at
		FROM download_history ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TaskID, &e.Title, &e.URL, &e.File, &e.Format, &e.AudioOnly, &e.Subtitles, &e.When); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
