package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ShoshinNikita/thumbnailer/pkg/metrics"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
)

func loggingMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case path == "/favicon.ico" || strings.HasPrefix(path, "/debug"):
			h.ServeHTTP(w, r)
			return

		case strings.HasPrefix(path, "/api/thumbnail/"):
			// Don't create a label per file.
			path = "/api/thumbnail/"
		}

		now := time.Now()
		rw := newResponseWriter(w)

		h.ServeHTTP(rw, r)

		dur := time.Since(now)
		rlog.Debugf("%s %s: %d, %s", r.Method, r.URL.Path, rw.statusCode, dur)

		metrics.HTTPResponseStatuses.WithLabelValues(strconv.Itoa(rw.statusCode)).Inc()
		metrics.HTTPResponseTime.WithLabelValues(path).Observe(dur.Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter

	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func setCacheHeaders(w http.ResponseWriter, maxAge time.Duration, etag string) {
	cacheControl := fmt.Sprintf("private, max-age=%d", int64(maxAge.Seconds()))
	expTime := time.Now().Add(maxAge)

	w.Header().Set("Expires", expTime.Format(http.TimeFormat))
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("ETag", `"`+etag+`"`)
}
