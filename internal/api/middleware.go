package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/videocap/internal/logging"
)

// HTTPLoggingMiddleware logs each request once it completes. Failures are
// logged at WARN or ERROR; polling endpoints and event streams at DEBUG.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	path := ctx.URL().Path
	status := ctx.Status()
	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if q := ctx.URL().RawQuery; q != "" && !strings.Contains(q, "auth=") {
		attrs = append(attrs, slog.String("query", q))
	}

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	case path == "/api/health", path == "/api/events", strings.HasSuffix(path, "/frame"):
		level = slog.LevelDebug
	}
	logging.GetLogger("http").LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
}
