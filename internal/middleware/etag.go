package middleware

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"
)

// etagResponseWriter captures the response for ETag calculation
type etagResponseWriter struct {
	http.ResponseWriter
	buf        *bytes.Buffer
	statusCode int
}

func (w *etagResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

func (w *etagResponseWriter) WriteHeader(code int) {
	w.statusCode = code
}

// ETag returns a middleware that adds ETag headers to successful GET
// responses under prefix and answers If-None-Match with 304. Media
// downloads are left to http.ServeContent.
func ETag(prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, prefix) || isMedia(r) {
				next.ServeHTTP(w, r)
				return
			}

			buf := &bytes.Buffer{}
			wrapped := &etagResponseWriter{
				ResponseWriter: w,
				buf:            buf,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			if wrapped.statusCode != http.StatusOK {
				w.WriteHeader(wrapped.statusCode)
				w.Write(buf.Bytes())
				return
			}

			hash := md5.Sum(buf.Bytes())
			etag := `"` + hex.EncodeToString(hash[:]) + `"`

			w.Header().Set("ETag", etag)
			w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")
			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}

			w.WriteHeader(http.StatusOK)
			w.Write(buf.Bytes())
		})
	}
}
