package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestDebugLogger_LogRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDebugLogger(newBufferLogger(&buf))

	req, _ := http.NewRequest("POST", "http://example.com/search", nil)
	req.Header.Set("Content-Type", "application/json")

	logger.LogRequest(1, "/search", req, []byte(`{"query":"ezek"}`))

	output := buf.String()

	for _, want := range []string{"session=1", "/search", "POST", "http://example.com/search", "Content-Type", `ezek`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestDebugLogger_LogResponse(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDebugLogger(newBufferLogger(&buf))

	resp := &http.Response{
		StatusCode: 499,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}

	logger.LogResponse(2, "/search", resp, []byte(`{"error":"Request cancelled by client"}`), 150*time.Millisecond)

	output := buf.String()
	if !strings.Contains(output, "499") {
		t.Errorf("expected status in output, got: %s", output)
	}
	if !strings.Contains(output, "150ms") {
		t.Errorf("expected duration in output, got: %s", output)
	}
	if !strings.Contains(output, "Request cancelled by client") {
		t.Errorf("expected body in output, got: %s", output)
	}
}

func TestDebugLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDebugLogger(newBufferLogger(&buf))

	logger.LogError(3, "/search", "context canceled", 10*time.Millisecond)

	if !strings.Contains(buf.String(), "context canceled") {
		t.Errorf("expected error message in output, got: %s", buf.String())
	}
}

func TestDebugLogger_NilSafe(t *testing.T) {
	var logger *DebugLogger
	req, _ := http.NewRequest("GET", "http://example.com", nil)

	// Should not panic
	logger.LogRequest(1, "test", req, nil)
	logger.LogResponse(1, "test", &http.Response{}, nil, time.Second)
	logger.LogError(1, "test", "error", time.Second)

	if NewDebugLogger(nil) != nil {
		t.Error("NewDebugLogger(nil) should return a nil logger")
	}
}

func TestTruncateBody(t *testing.T) {
	small := []byte("small body")
	if got := truncateBody(small); got != "small body" {
		t.Errorf("expected unchanged body, got %q", got)
	}

	large := bytes.Repeat([]byte("x"), maxBodyLogSize+100)
	got := truncateBody(large)
	if !strings.Contains(got, "truncated") {
		t.Errorf("expected truncation notice, got %q", got[len(got)-50:])
	}
	if !strings.HasPrefix(got, strings.Repeat("x", maxBodyLogSize)) {
		t.Error("expected first maxBodyLogSize bytes preserved")
	}
}
