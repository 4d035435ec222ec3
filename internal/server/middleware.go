package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey contextKey = "request_id"

// RequestIDMiddleware adds a unique request ID to each request and echoes it
// in the X-Request-ID response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// LoggingMiddleware writes one access log line per request. Handlers enrich it
// with the note helpers, so a stream that fails after its headers are sent is
// still logged with the upstream error kind.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rl := &requestLog{}
			ctx := context.WithValue(r.Context(), requestLogKey{}, rl)
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Int("bytes", wrapped.written),
				slog.Duration("duration", time.Since(start)),
			}
			level := rl.appendTo(&attrs)
			if wrapped.statusCode >= 500 {
				level = slog.LevelError
			}
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}

type requestLogKey struct{}

// requestLog is what answer handlers learned about a request.
type requestLog struct {
	mu       sync.Mutex
	err      error
	kind     string
	sources  int
	chunks   int
	streamed bool
}

// appendTo adds the recorded fields and returns the level they call for.
// A failed stream keeps its 200 status, so it is raised to Warn here.
func (rl *requestLog) appendTo(attrs *[]slog.Attr) slog.Level {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.sources > 0 {
		*attrs = append(*attrs, slog.Int("sources", rl.sources))
	}
	if rl.streamed {
		*attrs = append(*attrs, slog.Int("chunks", rl.chunks))
	}
	if rl.err == nil {
		return slog.LevelInfo
	}
	*attrs = append(*attrs, slog.String("error", rl.err.Error()), slog.String("error_kind", rl.kind))
	if rl.kind == kindInvalidInput {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

func requestLogFrom(ctx context.Context) *requestLog {
	rl, _ := ctx.Value(requestLogKey{}).(*requestLog)
	return rl
}

// noteError records err and its kind. The first error wins.
func noteError(ctx context.Context, err error) {
	rl := requestLogFrom(ctx)
	if rl == nil || err == nil {
		return
	}
	_, _, kind := classify(err, "")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.err == nil {
		rl.err, rl.kind = err, kind
	}
}

// noteSources records how many chunks an answer was grounded on.
func noteSources(ctx context.Context, n int) {
	if rl := requestLogFrom(ctx); rl != nil {
		rl.mu.Lock()
		rl.sources = n
		rl.mu.Unlock()
	}
}

// noteChunk counts one streamed answer fragment.
func noteChunk(ctx context.Context) {
	if rl := requestLogFrom(ctx); rl != nil {
		rl.mu.Lock()
		rl.streamed = true
		rl.chunks++
		rl.mu.Unlock()
	}
}

// responseWriter captures the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

// Flush passes SSE events through to the client as they are written.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// TimeoutMiddleware cancels the request context after timeout. Handlers stop
// cooperatively through context.Done.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
