package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// observe counts every request and writes an access log line. Bodies and
// query strings are never logged: node definitions carry credentials.
func (a *api) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}

		pattern := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			pattern = rc.RoutePattern()
		}
		if pattern == "" {
			pattern = "(unmatched)"
		} else {
			pattern = r.Method + " " + pattern
		}
		a.metrics.incRequest(pattern, status)

		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			a.opt.Logger.WithFields(logrus.Fields{
				"method":  r.Method,
				"path":    r.URL.Path,
				"pattern": pattern,
				"status":  status,
				"dur":     time.Since(start).Round(time.Millisecond).String(),
				"bytes":   sw.bytes,
			}).Info("http")
		}
	})
}
