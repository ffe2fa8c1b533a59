// Package middleware provides the HTTP middleware stacks shared by the
// auth store's admin surface.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/baileys-auth-store/pkg/metrics"
)

// requestIDContextKey is the context key the request-ID middleware
// stores the generated id under.
type requestIDContextKey struct{}

// MiddlewareConfig holds configuration for building middleware stacks.
type MiddlewareConfig struct {
	Logger          *slog.Logger
	MetricsRegistry *metrics.MetricsRegistry
	MaxRequestSize  int
	RequestTimeout  time.Duration
}

// BuildAdminMiddlewareStack builds the middleware stack for the admin
// HTTP surface (healthz/metrics/debug). Applied outermost to innermost:
// security headers, panic recovery, request id, logging, metrics, size
// limit, timeout.
func BuildAdminMiddlewareStack(config *MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		if config.RequestTimeout > 0 {
			handler = http.TimeoutHandler(handler, config.RequestTimeout, "Request timeout")
		}

		if config.MaxRequestSize > 0 {
			handler = applySizeLimit(handler, config.MaxRequestSize)
		}

		if config.MetricsRegistry != nil {
			handler = config.MetricsRegistry.Technical().HTTP.Middleware(handler)
		}

		if config.Logger != nil {
			handler = applyLogging(handler, config.Logger)
		}

		handler = applyRequestID(handler)
		handler = applyRecovery(handler, config.Logger)

		securityHeaders := NewSecurityHeadersMiddleware(nil)
		handler = securityHeaders.Handler(handler)

		return handler
	}
}

func applySizeLimit(next http.Handler, maxBytes int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > int64(maxBytes) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// applyLogging logs every request at info level, tagging the line with
// the request id assigned by applyRequestID.
func applyLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"request_id", RequestIDFromContext(r.Context()),
		)
		next.ServeHTTP(w, r)
	})
}

// applyRequestID stamps every request with a UUID, reachable downstream
// via RequestIDFromContext and echoed back as the X-Request-ID header.
func applyRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id applyRequestID assigned,
// or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// applyRecovery recovers from a downstream panic and returns a 500
// instead of crashing the server.
func applyRecovery(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if logger != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
					)
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
