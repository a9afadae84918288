package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// logging is a middleware that logs HTTP requests.
func logging(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("action", r.URL.Query().Get("action")),
				zap.String("requestId", middleware.GetReqID(r.Context())),
				zap.Int("status", wrapped.Status()),
				zap.Duration("dur", time.Since(start)),
			)
		})
	}
}

// recovery is a middleware that recovers from panics with an {ok: false} envelope.
func recovery(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic", zap.Any("err", err), zap.ByteString("stack", debug.Stack()))
					writeError(w, &apiError{status: http.StatusInternalServerError, code: CodeInternal, message: "internal server error"})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
