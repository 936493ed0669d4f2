package api

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/smazurov/camss/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// HTTPLoggingMiddleware tags each request with an ID and logs it once the
// handler returns. 5xx log at error, 4xx at warn, polled and long-lived
// paths at debug.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	id := ctx.Header(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	ctx.SetHeader(requestIDHeader, id)

	u := ctx.URL()
	path := u.Path
	attrs := []slog.Attr{
		slog.String("request_id", id),
		slog.String("method", ctx.Method()),
		slog.String("path", path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if q := redactQuery(u.Query()); q != "" {
		attrs = append(attrs, slog.String("query", q))
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	case quietPath(path):
		level = slog.LevelDebug
	}
	logger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
}

// redactQuery hides the credentials EventSource clients pass in ?auth=.
func redactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	if q.Has("auth") {
		q.Set("auth", "REDACTED")
	}
	return q.Encode()
}

// quietPath reports paths polled or held open by clients.
func quietPath(path string) bool {
	switch path {
	case "/api/health", "/api/events", "/api/logs/stream":
		return true
	}
	return false
}
