// Package http is the client transport: JSON POSTs that honour context
// cancellation mid-flight.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"searchflight/internal/core"
)

const (
	// maxResponseBodySize limits the response body read into a Reply.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB
)

// Client posts JSON to a base URL.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
	debug   *DebugLogger
}

// NewClient creates a client for baseURL. A nil httpClient uses
// http.DefaultClient; debug may be nil.
func NewClient(baseURL string, httpClient *http.Client, debug *DebugLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		headers: make(map[string]string),
		debug:   debug,
	}
}

// SetHeader adds a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Post sends payload as JSON to path. The call is aborted when ctx is
// cancelled, including while the response body is being read. Non-2xx
// statuses are not errors; callers inspect the Reply.
func (c *Client) Post(ctx context.Context, path string, payload any) (core.Reply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return core.Reply{}, fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

// Get fetches path. Like Post, non-2xx statuses are not errors.
func (c *Client) Get(ctx context.Context, path string) (core.Reply, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (core.Reply, error) {
	sessionID := core.SessionIDFromContext(ctx)
	start := time.Now()
	requestID := uuid.NewString()
	reply := core.Reply{RequestID: requestID}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		reply.Duration = time.Since(start)
		c.debug.LogError(sessionID, path, err.Error(), reply.Duration)
		return reply, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(core.HeaderRequestID, requestID)

	c.debug.LogRequest(sessionID, path, req, body)

	resp, err := c.client.Do(req)
	if err != nil {
		reply.Duration = time.Since(start)
		c.debug.LogError(sessionID, path, err.Error(), reply.Duration)
		return reply, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	_, _ = io.Copy(io.Discard, resp.Body) // drain errors are ignorable
	reply.Duration = time.Since(start)
	reply.StatusCode = resp.StatusCode
	reply.Status = resp.Status
	reply.Body = respBody

	if err != nil {
		c.debug.LogError(sessionID, path, err.Error(), reply.Duration)
		return reply, fmt.Errorf("reading response: %w", err)
	}

	c.debug.LogResponse(sessionID, path, resp, respBody, reply.Duration)
	return reply, nil
}

// Endpoint posts params of type P to a fixed path. It satisfies
// coordinator.Caller.
type Endpoint[P any] struct {
	client *Client
	path   string
}

func NewEndpoint[P any](client *Client, path string) *Endpoint[P] {
	return &Endpoint[P]{client: client, path: path}
}

func (e *Endpoint[P]) Call(ctx context.Context, params P) (core.Reply, error) {
	return e.client.Post(ctx, e.path, params)
}
