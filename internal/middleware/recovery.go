package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"storefront-backend/pkg/api"
)

// Recovery converts panics into 500 responses and logs them with the stack.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("Panic recovered",
						zap.String("request_id", GetRequestIDFromRequest(r)),
						zap.Any("panic", err),
						zap.ByteString("stack", debug.Stack()),
					)

					// Nothing can be sent once the response has started.
					if w.Header().Get("Content-Type") == "" {
						api.Error(w, http.StatusInternalServerError, "Internal server error")
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
