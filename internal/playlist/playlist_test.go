package playlist

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func newTestExpander(items []Entry, err error) (*Expander, *string) {
	var gotID string
	e := New(nil)
	e.list = func(ctx context.Context, playlistID string, limit int) ([]Entry, error) {
		gotID = playlistID
		return items, err
	}
	return e, &gotID
}

func TestExpand_Playlist(t *testing.T) {
	e, gotID := newTestExpander([]Entry{
		{VideoID: "aaaaaaaaaaa", Title: "one"},
		{VideoID: ""},
		{VideoID: "bbbbbbbbbbb", Title: "two"},
		{VideoID: "aaaaaaaaaaa", Title: "one again"},
	}, nil)

	urls, err := e.Expand(context.Background(), "https://www.youtube.com/playlist?list=PLxyz123")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if *gotID != "PLxyz123" {
		t.Errorf("playlist id = %q", *gotID)
	}
	want := []string{
		"https://www.youtube.com/watch?v=aaaaaaaaaaa",
		"https://www.youtube.com/watch?v=bbbbbbbbbbb",
	}
	if !reflect.DeepEqual(urls, want) {
		t.Errorf("Expand() = %v, want %v", urls, want)
	}
}

func TestExpand_SingleItem(t *testing.T) {
	tests := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLxyz123",
		"https://cdn.example.com/song.mp3",
	}

	for _, url := range tests {
		e, gotID := newTestExpander(nil, errors.New("should not be called"))
		urls, err := e.Expand(context.Background(), url)
		if err != nil {
			t.Fatalf("Expand(%q) error = %v", url, err)
		}
		if len(urls) != 1 || urls[0] != url {
			t.Errorf("Expand(%q) = %v", url, urls)
		}
		if *gotID != "" {
			t.Errorf("Expand(%q) listed playlist %q", url, *gotID)
		}
	}
}

func TestExpand_Errors(t *testing.T) {
	e, _ := newTestExpander(nil, errors.New("quota exceeded"))
	if _, err := e.Expand(context.Background(), "https://www.youtube.com/playlist?list=PLxyz123"); err == nil {
		t.Error("expected lister error to propagate")
	}

	if _, err := e.Expand(context.Background(), "not a url"); err == nil {
		t.Error("expected invalid url error")
	}
}
