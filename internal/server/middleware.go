package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tailscale.com/client/tailscale/apitype"
)

type contextKey int

const subjectKey contextKey = iota

// WhoIser resolves a tailnet peer to its identity.
type WhoIser interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
}

// Identity returns middleware that resolves the caller's subject id from a
// bearer token, or from the tailnet login when ts is set and no token was
// sent. Unknown tokens and anonymous callers get 401.
func Identity(tokens map[string]string, ts WhoIser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
				subject, found := tokens[token]
				if !found {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid auth token"})
					return
				}
				next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
				return
			}

			if ts != nil {
				who, err := ts.WhoIs(r.Context(), r.RemoteAddr)
				if err == nil && who.UserProfile != nil && who.UserProfile.LoginName != "" {
					next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), who.UserProfile.LoginName)))
					return
				}
			}

			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Missing auth token"})
		})
	}
}

// WithSubject returns a context carrying the authenticated subject id.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns the subject id set by Identity.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

// RequestLogging returns middleware that logs each request.
func RequestLogging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// CORS adds permissive CORS headers for local development.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers such as the MCP endpoint flush through the
// wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
