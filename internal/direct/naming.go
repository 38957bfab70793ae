package direct

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/viora/downloader/internal/config"
	"github.com/viora/downloader/internal/fetch"
	"github.com/viora/downloader/internal/validators"
)

const (
	fallbackName = "download"
	maxNameTries = 1000
)

// errPathBusy is returned when an attempt's own output path is held by
// another fetch of this engine. It is transient.
var errPathBusy = errors.New("output path is in use by another download")

var templateField = regexp.MustCompile(`%\((\w+)\)s`)

// isHLS reports whether rawURL points at an HLS playlist.
func isHLS(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".m3u8")
}

// nameFromURL derives a sanitized title and an extension from the last path
// element of rawURL. contentType is used when the path has no extension.
func nameFromURL(rawURL, contentType string) (title, ext string) {
	base := fallbackName
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "/" && b != "." {
			if unescaped, err := url.PathUnescape(b); err == nil {
				b = unescaped
			}
			base = b
		}
	}

	ext = strings.TrimPrefix(path.Ext(base), ".")
	title = strings.TrimSuffix(base, path.Ext(base))
	if ext == "" && contentType != "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = strings.TrimPrefix(exts[0], ".")
		}
	}
	if ext == "" {
		ext = "bin"
	}
	return validators.SanitizeFilename(title, fallbackName), strings.ToLower(ext)
}

// outputPath applies the filename template. Only the title, id and ext
// fields are known to this engine; others expand to NA.
func outputPath(opts fetch.Options, title, ext string) string {
	tmpl := opts.FilenameTemplate
	if tmpl == "" {
		tmpl = config.DefaultFilenameTemplate
	}
	name := templateField.ReplaceAllStringFunc(tmpl, func(m string) string {
		switch templateField.FindStringSubmatch(m)[1] {
		case "title", "id":
			return title
		case "ext":
			return ext
		default:
			return "NA"
		}
	})
	return filepath.Join(opts.OutputDir, filepath.Base(name))
}

// claim reserves the output path of one attempt and opens its .part file
// for appending. opts.ResumePath, when it lies in the output folder, is the
// path an earlier attempt of the same task used and is reopened as is.
// Otherwise the first free name among "name.ext", "name (1).ext", ... is
// taken by creating its .part exclusively; a name is free when no fetch of
// this engine holds it and neither the file nor its .part exists. fresh
// reports whether the .part was created by this call. release must be
// called once the attempt is over.
func (e *Engine) claim(opts fetch.Options, title, ext string) (final string, file *os.File, fresh bool, release func(), err error) {
	base := outputPath(opts, title, ext)

	e.mu.Lock()
	defer e.mu.Unlock()

	if resume := opts.ResumePath; resume != "" && filepath.Dir(resume) == filepath.Dir(base) {
		if _, busy := e.claimed[resume]; busy {
			return "", nil, false, nil, errPathBusy
		}
		file, err := os.OpenFile(resume+".part", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", nil, false, nil, fmt.Errorf("failed to open %s.part: %w", resume, err)
		}
		e.claimed[resume] = struct{}{}
		return resume, file, false, e.releaser(resume), nil
	}

	for i := 0; i < maxNameTries; i++ {
		candidate := suffixed(base, i)
		if _, busy := e.claimed[candidate]; busy {
			continue
		}
		if _, err := os.Lstat(candidate); err == nil {
			continue
		}
		file, err := os.OpenFile(candidate+".part", os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, false, nil, fmt.Errorf("failed to open %s.part: %w", candidate, err)
		}
		e.claimed[candidate] = struct{}{}
		return candidate, file, true, e.releaser(candidate), nil
	}
	return "", nil, false, nil, fmt.Errorf("no free file name for %s", base)
}

func (e *Engine) releaser(final string) func() {
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.claimed, final)
	}
}

// suffixed returns path with " (n)" before its extension; n == 0 is path.
func suffixed(p string, n int) string {
	if n == 0 {
		return p
	}
	ext := filepath.Ext(p)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(p, ext), n, ext)
}
