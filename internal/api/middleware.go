package api

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/hudrender/internal/logging"
)

// quietPaths are polled or held open by clients and logged at debug level.
var quietPaths = map[string]bool{
	"/api/health":      true,
	"/api/events":      true,
	"/api/logs/stream": true,
}

const jobsPathPrefix = "/api/jobs/"

// HTTPLoggingMiddleware logs each request once it completes. 5xx logs at
// error, 4xx at warn, the rest at info except preflights and quiet paths.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("api")

	method := ctx.Method()
	path := ctx.URL().Path

	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if q := redactQuery(ctx.URL().RawQuery); q != "" {
		attrs = append(attrs, slog.String("query", q))
	}
	if id := jobIDFromPath(path); id != "" {
		attrs = append(attrs, slog.String("job_id", id))
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs, slog.Int("status", status), slog.Duration("duration", time.Since(start)))

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	case method == "OPTIONS", quietPaths[path]:
		level = slog.LevelDebug
	}
	logger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
}

// redactQuery hides the auth parameter EventSource clients send credentials in.
func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "<unparsable>"
	}
	if _, ok := values["auth"]; ok {
		values.Set("auth", "REDACTED")
	}
	return values.Encode()
}

// jobIDFromPath returns {id} from /api/jobs/{id} and /api/jobs/{id}/output.
func jobIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, jobsPathPrefix)
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
