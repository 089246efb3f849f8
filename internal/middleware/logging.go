package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
)

// SecureLogger logs one line per request. Query strings carrying tokens
// or passwords are replaced with a redaction marker.
func SecureLogger(logger *slog.Logger, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			if wrapped.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logger.LogAttrs(context.Background(), level, "http_request",
				slog.String("method", r.Method),
				slog.String("path", loggedPath(r)),
				slog.Int("status", wrapped.Status()),
				slog.Int("bytes", wrapped.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("client_ip", pkghttp.ExtractClientIP(r, ipConfig)),
			)
		})
	}
}

func loggedPath(r *http.Request) string {
	switch {
	case r.URL.RawQuery == "":
		return r.URL.Path
	case pkglogger.SanitizeQueryString(r.URL.RawQuery):
		return r.URL.Path + "?[REDACTED]"
	default:
		return r.URL.Path + "?" + r.URL.RawQuery
	}
}
