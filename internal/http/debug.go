package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"searchflight/internal/core"
)

const maxBodyLogSize = 1024

// DebugLogger traces requests and responses at debug level. A nil
// *DebugLogger is valid and logs nothing.
type DebugLogger struct {
	logger *slog.Logger
}

func NewDebugLogger(logger *slog.Logger) *DebugLogger {
	if logger == nil {
		return nil
	}
	return &DebugLogger{logger: logger.With("component", "transport")}
}

func (d *DebugLogger) LogRequest(sessionID int, name string, req *http.Request, body []byte) {
	if d == nil {
		return
	}
	d.logger.Debug(">>> request",
		"session", sessionID,
		"call", name,
		"method", req.Method,
		"url", req.URL.String(),
		"request_id", req.Header.Get(core.HeaderRequestID),
		"headers", formatHeaders(req.Header),
		"body", truncateBody(body),
	)
}

func (d *DebugLogger) LogResponse(sessionID int, name string, resp *http.Response, body []byte, duration time.Duration) {
	if d == nil {
		return
	}
	d.logger.Debug("<<< response",
		"session", sessionID,
		"call", name,
		"status", fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		"duration", duration.Round(time.Millisecond),
		"headers", formatHeaders(resp.Header),
		"body", truncateBody(body),
	)
}

func (d *DebugLogger) LogError(sessionID int, name string, errMsg string, duration time.Duration) {
	if d == nil {
		return
	}
	d.logger.Debug("!!! error",
		"session", sessionID,
		"call", name,
		"duration", duration.Round(time.Millisecond),
		"error", errMsg,
	)
}

func formatHeaders(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	parts := make([]string, 0, len(h))
	for name, values := range h {
		parts = append(parts, name+": "+strings.Join(values, ", "))
	}
	return strings.Join(parts, "; ")
}

func truncateBody(body []byte) string {
	if len(body) <= maxBodyLogSize {
		return string(body)
	}
	return string(body[:maxBodyLogSize]) + fmt.Sprintf("... (truncated, %d bytes total)", len(body))
}
