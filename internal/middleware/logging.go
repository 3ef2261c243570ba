package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HTTPObserver records request metrics.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// Logger logs every request and reports it to observer, which may be nil.
// Server errors log at Error, client errors at Warn, the rest at Debug.
func Logger(logger *zap.Logger, observer HTTPObserver) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := routePattern(r)
			if observer != nil {
				observer.ObserveHTTP(r.Method, route, status, elapsed)
			}

			fields := []zap.Field{
				zap.String("request_id", GetRequestIDFromRequest(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed),
			}
			switch {
			case status >= 500:
				logger.Error("Request failed", fields...)
			case status >= 400:
				logger.Warn("Request rejected", fields...)
			default:
				logger.Debug("Request served", fields...)
			}
		})
	}
}

// routePattern keeps metric labels bounded: the chi pattern when routed,
// otherwise a fixed placeholder.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
