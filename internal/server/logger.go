package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/woozymasta/basemaphist/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RequestLogger is a middleware to log HTTP requests and count them by route.
func RequestLogger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.Request(route, strconv.Itoa(ww.statusCode))

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", ww.statusCode).
				Str("ip", r.RemoteAddr).
				Dur("duration", time.Since(start)).
				Msg("Request processed")
		})
	}
}

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing to the underlying response writer.
func (w *responseWriterWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
