package validators

// SourceType identifies which kind of source a URL points at. It decides
// which fetch engine handles the download.
type SourceType string

const (
	SourceYouTube    SourceType = "youtube"
	SourceSoundCloud SourceType = "soundcloud"
	SourceDirect     SourceType = "direct"
	SourceHLS        SourceType = "hls"
	SourceGeneric    SourceType = "generic"
	SourceUnknown    SourceType = "unknown"
)

// Media types reported in ValidationResult.MediaType
const (
	MediaVideo    = "video"
	MediaTrack    = "track"
	MediaPlaylist = "playlist"
	MediaFile     = "file"
	MediaStream   = "stream"
	MediaPage     = "page"
)

// ValidationResult contains the result of URL validation
type ValidationResult struct {
	Valid      bool       `json:"valid"`
	SourceType SourceType `json:"source_type"`
	MediaID    string     `json:"media_id,omitempty"`
	MediaType  string     `json:"media_type,omitempty"`
	PlaylistID string     `json:"playlist_id,omitempty"`
	URL        string     `json:"url"`
	Canonical  string     `json:"canonical_url,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// IsPlaylist reports whether the URL names a collection rather than one item.
func (r ValidationResult) IsPlaylist() bool {
	return r.MediaType == MediaPlaylist
}

// Validator defines the interface for URL validators
type Validator interface {
	// SourceType returns the source type this validator handles
	SourceType() SourceType

	// CanHandle returns true if this validator can handle the given URL
	CanHandle(url string) bool

	// Validate validates the URL and extracts relevant information
	Validate(url string) ValidationResult
}
