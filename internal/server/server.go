// Package server implements the cancellable search endpoint.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"searchflight/internal/core"
	"searchflight/internal/dataset"
	"searchflight/internal/logging"
)

// Config wires the server's collaborators. Only Dataset is required.
type Config struct {
	Dataset  *dataset.Dataset
	Clock    core.Clock
	Logger   *slog.Logger
	Registry *prometheus.Registry

	// CORSOrigins enables CORS for the listed origins ("*" allows all).
	CORSOrigins []string
	// Compress gzips responses for clients that accept it.
	Compress bool
	// AccessLog receives combined-format access log lines when set.
	AccessLog io.Writer
}

// Server serves POST /search plus health and metrics endpoints.
type Server struct {
	mux      *http.ServeMux
	cfg      Config
	data     *dataset.Dataset
	clock    core.Clock
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *Metrics

	// lookup performs the dataset scan; tests replace it to inject faults.
	lookup func(query string) []core.User
}

// NewServer creates a server with all endpoints registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dataset == nil {
		return nil, fmt.Errorf("server: dataset is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		mux:      http.NewServeMux(),
		cfg:      cfg,
		data:     cfg.Dataset,
		clock:    cfg.Clock,
		logger:   logging.OrDiscard(cfg.Logger).With("component", "server"),
		registry: cfg.Registry,
		metrics:  NewMetrics(cfg.Registry),
	}
	s.lookup = s.data.Search
	s.registerHandlers()
	return s, nil
}

// Handler returns the http.Handler for the server, wrapped in the
// configured middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = withRequestID(h)
	if s.cfg.Compress {
		h = handlers.CompressHandler(h)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.cfg.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", HeaderRequestID}),
			handlers.ExposedHeaders([]string{HeaderRequestID}),
		)(h)
	}
	if s.cfg.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(s.cfg.AccessLog, h)
	}
	return h
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Endpoints describes the registered routes for startup banners.
func Endpoints() []string {
	return []string{
		"POST /search   - Search users ({\"query\": \"...\", \"delay\": ms})",
		"GET  /health   - Health check",
		"GET  /metrics  - Prometheus metrics",
	}
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","users":%d}`, s.data.Len())
}
