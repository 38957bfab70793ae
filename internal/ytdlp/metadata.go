package ytdlp

import (
	"fmt"

	"github.com/viora/downloader/internal/fetch"
)

// YtdlpOutput represents the JSON output from yt-dlp --dump-json
type YtdlpOutput struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Uploader    string   `json:"uploader"`
	Channel     string   `json:"channel"`
	Duration    float64  `json:"duration"`
	Thumbnail   string   `json:"thumbnail"`
	Thumbnails  []Thumb  `json:"thumbnails"`
	WebpageURL  string   `json:"webpage_url"`
	Extractor   string   `json:"extractor"`
	Filename    string   `json:"_filename"`
	Formats     []Format `json:"formats"`
	Description string   `json:"description"`
}

// Thumb represents a thumbnail entry
type Thumb struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Format represents a media format option
type Format struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	Height         int     `json:"height"`
	FPS            float64 `json:"fps"`
	ACodec         string  `json:"acodec"`
	VCodec         string  `json:"vcodec"`
	TBR            float64 `json:"tbr"`
	Abr            float64 `json:"abr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	FormatNote     string  `json:"format_note"`
}

// ToMetadata converts YtdlpOutput to the engine-neutral metadata.
func (o *YtdlpOutput) ToMetadata() *fetch.Metadata {
	m := &fetch.Metadata{
		Title:        o.Title,
		ThumbnailURL: o.Thumbnail,
		Duration:     int(o.Duration),
	}

	// Use best thumbnail if available
	if m.ThumbnailURL == "" && len(o.Thumbnails) > 0 {
		m.ThumbnailURL = o.Thumbnails[len(o.Thumbnails)-1].URL
	}

	for _, f := range o.Formats {
		// storyboards and other image-only entries are not downloadable media
		if f.ACodec == "none" && f.VCodec == "none" {
			continue
		}
		m.Variants = append(m.Variants, f.toVariant())
	}
	return m
}

func (f Format) toVariant() fetch.Variant {
	v := fetch.Variant{
		ID:         f.FormatID,
		Ext:        f.Ext,
		Resolution: f.Resolution,
		Height:     f.Height,
		FPS:        f.FPS,
		AudioCodec: f.ACodec,
		VideoCodec: f.VCodec,
		Bitrate:    f.TBR,
		Filesize:   f.Filesize,
		Note:       f.FormatNote,
	}
	if v.Bitrate == 0 {
		v.Bitrate = f.Abr
	}
	if v.Filesize == 0 {
		v.Filesize = f.FilesizeApprox
	}
	if v.Resolution == "" && f.Height > 0 {
		v.Resolution = fmt.Sprintf("%dp", f.Height)
	}
	return v
}
