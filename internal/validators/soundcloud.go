package validators

import (
	"strings"
)

// SoundCloudValidator recognizes SoundCloud tracks and sets
type SoundCloudValidator struct{}

// NewSoundCloudValidator creates a new SoundCloud URL validator
func NewSoundCloudValidator() *SoundCloudValidator {
	return &SoundCloudValidator{}
}

// SourceType returns the source type for this validator
func (v *SoundCloudValidator) SourceType() SourceType {
	return SourceSoundCloud
}

// CanHandle returns true if the URL appears to be a SoundCloud URL
func (v *SoundCloudValidator) CanHandle(rawURL string) bool {
	u, ok := parseHTTP(rawURL)
	if !ok {
		return false
	}
	host := normalizedHost(u)
	return host == "soundcloud.com" || host == "on.soundcloud.com"
}

// Validate classifies /user/track as a track and /user/sets/name as a playlist.
func (v *SoundCloudValidator) Validate(rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	res := ValidationResult{SourceType: SourceSoundCloud, URL: rawURL}

	u, ok := parseHTTP(rawURL)
	if !ok {
		res.Error = "invalid URL format"
		return res
	}

	segments := splitPath(u.Path)
	if normalizedHost(u) == "on.soundcloud.com" {
		// Short links redirect to an unknown target; let the engine resolve them.
		if len(segments) != 1 {
			res.Error = "invalid short URL"
			return res
		}
		res.Valid, res.MediaID, res.MediaType = true, segments[0], MediaTrack
		return res
	}

	switch {
	case len(segments) == 3 && segments[1] == "sets":
		res.Valid, res.MediaID, res.MediaType = true, segments[0]+"/"+segments[2], MediaPlaylist
	case len(segments) == 2 && segments[1] != "sets":
		res.Valid, res.MediaID, res.MediaType = true, segments[0]+"/"+segments[1], MediaTrack
	case len(segments) == 1:
		res.Error = "user profile URLs are not downloadable"
	default:
		res.Error = "unrecognized SoundCloud path"
	}
	if res.Valid {
		res.Canonical = "https://soundcloud.com/" + strings.Join(segments, "/")
	}
	return res
}
