package direct

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/viora/downloader/internal/fetch"
)

// fetchHLS downloads every segment of a VOD playlist into one .ts file.
// Completed segments are recorded in a .ytdl state file so a paused
// download resumes at the next segment.
func (e *Engine) fetchHLS(ctx context.Context, rawURL string, opts fetch.Options, progress fetch.ProgressFunc) (*fetch.Result, error) {
	title, _ := nameFromURL(rawURL, "")

	media, mediaURL, err := e.loadMedia(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}
	if !media.Closed {
		return nil, fetch.Permanent(errors.New("live HLS streams are not supported"))
	}
	segs := segments(media)
	if len(segs) == 0 {
		return nil, fetch.Permanent(errors.New("HLS playlist has no segments"))
	}
	for _, s := range segs {
		if encrypted(s.Key) || encrypted(media.Key) {
			return nil, fetch.Permanent(errors.New("encrypted HLS streams are not supported"))
		}
	}

	final, file, fresh, release, err := e.claim(opts, title, "ts")
	if err != nil {
		return nil, err
	}
	defer release()
	defer file.Close()
	part := final + ".part"
	statePath := final + ".ytdl"
	if fresh {
		os.Remove(statePath)
	}

	if err := progress(fetch.Progress{Filename: final, Title: title}); err != nil {
		return nil, err
	}

	done, offset := readState(statePath)
	if info, err := file.Stat(); err != nil || info.Size() < offset || done > len(segs) {
		done, offset = 0, 0
	}
	if err := file.Truncate(offset); err != nil {
		return nil, err
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	meter := newMeter(progress, e.interval, fetch.Progress{
		DownloadedBytes: offset,
		TotalBytes:      estimateTotal(offset, done, len(segs)),
		Filename:        final,
		Title:           title,
	})
	if err := meter.report(true); err != nil {
		return nil, err
	}

	w := newThrottledWriter(ctx, file, opts.RateLimitBytes)
	for i := done; i < len(segs); i++ {
		segURL, err := resolveURL(mediaURL, segs[i].URI)
		if err != nil {
			return nil, fetch.Permanent(err)
		}
		if err := e.copySegment(ctx, segURL, w, meter); err != nil {
			return nil, err
		}

		offset = meter.p.DownloadedBytes
		if err := writeState(statePath, i+1, offset); err != nil {
			return nil, err
		}
		meter.p.TotalBytes = estimateTotal(offset, i+1, len(segs))
	}
	if err := meter.report(true); err != nil {
		return nil, err
	}

	if err := file.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(part, final); err != nil {
		return nil, fmt.Errorf("failed to finalize download: %w", err)
	}
	os.Remove(statePath)
	return &fetch.Result{OutputPath: final, Title: title}, nil
}

func (e *Engine) copySegment(ctx context.Context, segURL string, w io.Writer, meter *meter) error {
	req, err := e.newRequest(ctx, http.MethodGet, segURL)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("segment request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return copyWithProgress(ctx, w, resp.Body, meter)
}

// loadMedia returns the media playlist for rawURL, choosing a variant when
// rawURL is a master playlist.
func (e *Engine) loadMedia(ctx context.Context, rawURL string, opts fetch.Options) (*m3u8.MediaPlaylist, *url.URL, error) {
	pl, kind, base, err := e.loadPlaylist(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	if kind == m3u8.MEDIA {
		return pl.(*m3u8.MediaPlaylist), base, nil
	}

	master := pl.(*m3u8.MasterPlaylist)
	v := selectVariant(master.Variants, opts)
	if v == nil {
		return nil, nil, fetch.Permanent(fmt.Errorf("no HLS variant matches %q", opts.Format))
	}
	variantURL, err := resolveURL(base, v.URI)
	if err != nil {
		return nil, nil, fetch.Permanent(err)
	}

	pl, kind, base, err = e.loadPlaylist(ctx, variantURL)
	if err != nil {
		return nil, nil, err
	}
	if kind != m3u8.MEDIA {
		return nil, nil, fetch.Permanent(errors.New("HLS variant is not a media playlist"))
	}
	return pl.(*m3u8.MediaPlaylist), base, nil
}

func (e *Engine) loadPlaylist(ctx context.Context, rawURL string) (m3u8.Playlist, m3u8.ListType, *url.URL, error) {
	req, err := e.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, 0, nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("playlist request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, nil, statusError(resp)
	}

	pl, kind, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
	if err != nil {
		return nil, 0, nil, fetch.Permanent(fmt.Errorf("invalid HLS playlist: %w", err))
	}
	// relative URIs resolve against the final URL after redirects
	return pl, kind, resp.Request.URL, nil
}

// probeHLS lists the variants of a master playlist, or the single rendition
// of a media playlist.
func (e *Engine) probeHLS(ctx context.Context, rawURL string) (*fetch.Metadata, error) {
	pl, kind, _, err := e.loadPlaylist(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	title, _ := nameFromURL(rawURL, "")
	meta := &fetch.Metadata{Title: title}

	if kind == m3u8.MEDIA {
		media := pl.(*m3u8.MediaPlaylist)
		var seconds float64
		for _, s := range segments(media) {
			seconds += s.Duration
		}
		meta.Duration = int(seconds)
		meta.Variants = []fetch.Variant{{ID: "hls", Ext: "ts"}}
		return meta, nil
	}

	for _, v := range pl.(*m3u8.MasterPlaylist).Variants {
		if v == nil || v.Iframe {
			continue
		}
		meta.Variants = append(meta.Variants, toVariant(v))
	}
	return meta, nil
}

// variantID names a master playlist variant by its bandwidth.
func variantID(v *m3u8.Variant) string {
	return "hls-" + strconv.FormatUint(uint64(v.Bandwidth), 10)
}

func toVariant(v *m3u8.Variant) fetch.Variant {
	out := fetch.Variant{
		ID:         variantID(v),
		Ext:        "ts",
		Resolution: v.Resolution,
		Bitrate:    float64(v.Bandwidth) / 1000,
		FPS:        v.FrameRate,
	}
	if _, h, ok := strings.Cut(v.Resolution, "x"); ok {
		out.Height, _ = strconv.Atoi(h)
	}

	for _, c := range strings.Split(v.Codecs, ",") {
		c = strings.TrimSpace(c)
		switch {
		case c == "":
		case isVideoCodec(c):
			out.VideoCodec = c
		default:
			out.AudioCodec = c
		}
	}
	if out.VideoCodec == "" && out.Resolution == "" && out.AudioCodec != "" {
		out.VideoCodec = "none"
	}
	return out
}

func isVideoCodec(c string) bool {
	for _, p := range []string{"avc", "hvc", "hev", "vp0", "vp8", "vp9", "av01"} {
		if strings.HasPrefix(c, p) {
			return true
		}
	}
	return false
}

// selectVariant picks the variant named by opts.Format, else the best
// audio-only variant in audio mode, else the highest bandwidth.
func selectVariant(variants []*m3u8.Variant, opts fetch.Options) *m3u8.Variant {
	var best, bestAudio *m3u8.Variant
	for _, v := range variants {
		if v == nil || v.Iframe {
			continue
		}
		if opts.Format != "" {
			if variantID(v) == opts.Format {
				return v
			}
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
		if toVariant(v).AudioOnly() && (bestAudio == nil || v.Bandwidth > bestAudio.Bandwidth) {
			bestAudio = v
		}
	}
	if opts.AudioOnly && bestAudio != nil {
		return bestAudio
	}
	return best
}

func segments(media *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	out := make([]*m3u8.MediaSegment, 0, media.Count())
	for _, s := range media.Segments {
		if s != nil && s.URI != "" {
			out = append(out, s)
		}
	}
	return out
}

func encrypted(k *m3u8.Key) bool {
	return k != nil && k.Method != "" && !strings.EqualFold(k.Method, "NONE")
}

func resolveURL(base *url.URL, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid segment uri %q: %w", ref, err)
	}
	return base.ResolveReference(refURL).String(), nil
}

// estimateTotal extrapolates the final size from the average size of the
// segments done so far.
func estimateTotal(bytes int64, done, total int) int64 {
	if done <= 0 {
		return 0
	}
	return bytes / int64(done) * int64(total)
}

func readState(path string) (segments int, offset int64) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0
	}
	if _, err := fmt.Sscanf(string(data), "%d %d", &segments, &offset); err != nil || segments < 0 || offset < 0 {
		return 0, 0
	}
	return segments, offset
}

func writeState(path string, segments int, offset int64) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d %d\n", segments, offset)), 0o644)
}
