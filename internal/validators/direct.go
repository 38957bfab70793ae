package validators

import (
	"path"
	"strings"
)

var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true, ".avi": true,
	".mp3": true, ".m4a": true, ".aac": true, ".flac": true, ".wav": true,
	".ogg": true, ".opus": true, ".ts": true, ".zip": true, ".iso": true,
}

// DirectValidator recognizes plain file URLs and HLS playlists that can be
// fetched over HTTP without an extractor.
type DirectValidator struct{}

func NewDirectValidator() *DirectValidator { return &DirectValidator{} }

func (v *DirectValidator) SourceType() SourceType { return SourceDirect }

func (v *DirectValidator) CanHandle(rawURL string) bool {
	u, ok := parseHTTP(rawURL)
	if !ok {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return ext == ".m3u8" || mediaExtensions[ext]
}

func (v *DirectValidator) Validate(rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	u, ok := parseHTTP(rawURL)
	if !ok {
		return ValidationResult{SourceType: SourceDirect, URL: rawURL, Error: "invalid URL format"}
	}

	name := path.Base(u.Path)
	if strings.ToLower(path.Ext(name)) == ".m3u8" {
		return ValidationResult{Valid: true, SourceType: SourceHLS, MediaID: name, MediaType: MediaStream, URL: rawURL}
	}
	return ValidationResult{Valid: true, SourceType: SourceDirect, MediaID: name, MediaType: MediaFile, URL: rawURL}
}
