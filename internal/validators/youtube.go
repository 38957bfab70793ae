package validators

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// YouTubeValidator recognizes YouTube video and playlist URLs
type YouTubeValidator struct {
	// videoIDPattern matches YouTube video IDs (11 characters, alphanumeric with - and _)
	videoIDPattern    *regexp.Regexp
	playlistIDPattern *regexp.Regexp
}

// NewYouTubeValidator creates a new YouTube URL validator
func NewYouTubeValidator() *YouTubeValidator {
	return &YouTubeValidator{
		videoIDPattern:    regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`),
		playlistIDPattern: regexp.MustCompile(`^[a-zA-Z0-9_-]{2,64}$`),
	}
}

// SourceType returns the source type for this validator
func (v *YouTubeValidator) SourceType() SourceType {
	return SourceYouTube
}

// CanHandle returns true if the URL appears to be a YouTube URL
func (v *YouTubeValidator) CanHandle(rawURL string) bool {
	u, ok := parseHTTP(rawURL)
	if !ok {
		return false
	}
	switch normalizedHost(u) {
	case "youtube.com", "youtu.be", "music.youtube.com":
		return true
	}
	return false
}

// Validate extracts the video or playlist id. A watch URL that also carries
// list= is treated as a single video; only /playlist URLs expand.
func (v *YouTubeValidator) Validate(rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	invalid := func(msg string) ValidationResult {
		return ValidationResult{Valid: false, SourceType: SourceYouTube, URL: rawURL, Error: msg}
	}

	u, ok := parseHTTP(rawURL)
	if !ok {
		return invalid("invalid URL format")
	}

	var videoID, mediaType string
	switch normalizedHost(u) {
	case "youtu.be":
		videoID = strings.TrimPrefix(u.Path, "/")
		mediaType = MediaVideo
	case "youtube.com", "music.youtube.com":
		if strings.HasPrefix(u.Path, "/playlist") {
			return v.validatePlaylist(rawURL, u)
		}
		videoID, mediaType = v.extractFromYouTubeCom(u)
	default:
		return invalid("not a YouTube URL")
	}

	if videoID == "" {
		return invalid("could not extract video ID from URL")
	}
	if !v.videoIDPattern.MatchString(videoID) {
		res := invalid("invalid video ID format")
		res.MediaID = videoID
		return res
	}

	return ValidationResult{
		Valid:      true,
		SourceType: SourceYouTube,
		MediaID:    videoID,
		MediaType:  mediaType,
		PlaylistID: u.Query().Get("list"),
		URL:        rawURL,
		Canonical:  fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID),
	}
}

func (v *YouTubeValidator) validatePlaylist(rawURL string, u *url.URL) ValidationResult {
	id := u.Query().Get("list")
	if !v.playlistIDPattern.MatchString(id) {
		return ValidationResult{Valid: false, SourceType: SourceYouTube, URL: rawURL, Error: "invalid playlist ID"}
	}
	return ValidationResult{
		Valid:      true,
		SourceType: SourceYouTube,
		MediaID:    id,
		MediaType:  MediaPlaylist,
		PlaylistID: id,
		URL:        rawURL,
		Canonical:  fmt.Sprintf("https://www.youtube.com/playlist?list=%s", id),
	}
}

// extractFromYouTubeCom extracts video ID from youtube.com URLs
func (v *YouTubeValidator) extractFromYouTubeCom(u *url.URL) (videoID, mediaType string) {
	path := u.Path

	switch {
	case strings.HasPrefix(path, "/watch"):
		videoID, mediaType = u.Query().Get("v"), MediaVideo
	case strings.HasPrefix(path, "/shorts/"):
		videoID, mediaType = strings.TrimPrefix(path, "/shorts/"), MediaVideo
	case strings.HasPrefix(path, "/embed/"):
		videoID, mediaType = strings.TrimPrefix(path, "/embed/"), MediaVideo
	case strings.HasPrefix(path, "/live/"):
		videoID, mediaType = strings.TrimPrefix(path, "/live/"), MediaStream
	}

	if idx := strings.Index(videoID, "/"); idx != -1 {
		videoID = videoID[:idx]
	}
	return videoID, mediaType
}
