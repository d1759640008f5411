package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// slogFormatter plugs slog into chi's RequestLogger so request logs and
// recovered panics share one structured logger
type slogFormatter struct {
	logger *slog.Logger
}

func (f slogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &slogEntry{
		logger: f.logger.With(
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		),
	}
}

type slogEntry struct {
	logger *slog.Logger
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	e.logger.Log(context.Background(), level, "http request",
		"status", status,
		"bytes", bytes,
		"duration", elapsed,
	)
}

func (e *slogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("handler panic", "panic", v, "stack", string(stack))
}

// requestLogger logs every request once it has been served
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(slogFormatter{logger: logger})
}

// presentedKey returns the API key a client sent, either as a bearer token or
// in X-API-Key
func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return auth
	}
	return r.Header.Get("X-API-Key")
}

// requireAPIKey rejects requests without key. An empty key disables the check.
func requireAPIKey(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		want := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(presentedKey(r)), want) != 1 {
				logger.Warn("unauthorized API request",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
				)
				sendError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
