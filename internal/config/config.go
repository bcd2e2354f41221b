// Package config handles YAML configuration for the search server and the
// storm driver. Values from a file are layered over defaults; command-line
// flags are applied on top by the binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"searchflight/internal/collector"
	"searchflight/internal/logging"
	"searchflight/internal/session"
)

const (
	DefaultHost            = "localhost"
	DefaultPort            = 5010
	DefaultShutdownTimeout = 5 * time.Second

	DefaultSessions      = 1
	DefaultKeysPerSecond = 8
	DefaultProbeDelay    = 2000 // ms
)

// Log selects log level and format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (l Log) validate() []error {
	var errs []error
	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (use text or json)", l.Format))
	}
	return errs
}

// Server configures searchd.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Data            string        `yaml:"data"` // JSON user file; embedded set when empty
	CORSOrigins     []string      `yaml:"corsOrigins"`
	Compress        bool          `yaml:"compress"`
	AccessLog       bool          `yaml:"accessLog"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Log             Log           `yaml:"log"`
}

// DefaultServer returns the server configuration used without a file.
func DefaultServer() Server {
	return Server{
		Host:            DefaultHost,
		Port:            DefaultPort,
		CORSOrigins:     []string{"*"},
		Compress:        true,
		AccessLog:       true,
		ShutdownTimeout: DefaultShutdownTimeout,
		Log:             Log{Level: "info", Format: "text"},
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Validate reports every problem at once.
func (s *Server) Validate() error {
	var errs []error
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: must be between 1 and 65535, got %d", s.Port))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdownTimeout: must be >= 0, got %v", s.ShutdownTimeout))
	}
	errs = append(errs, s.Log.validate()...)
	return errors.Join(errs...)
}

// Probe sends one delayed request and disconnects mid-delay.
type Probe struct {
	Query string        `yaml:"query"`
	Delay int           `yaml:"delay"` // ms requested from the server
	After time.Duration `yaml:"after"` // disconnect after this long
}

// Storm configures searchstorm.
type Storm struct {
	Server        string                `yaml:"server"`
	Mode          string                `yaml:"mode"`
	Debounce      time.Duration         `yaml:"debounce"`
	Delays        []int                 `yaml:"delays"`
	KeysPerSecond float64               `yaml:"keysPerSecond"`
	Sessions      int                   `yaml:"sessions"`
	Phrases       []string              `yaml:"phrases"`
	Probe         *Probe                `yaml:"probe,omitempty"`
	Thresholds    *collector.Thresholds `yaml:"thresholds,omitempty"`
	Log           Log                   `yaml:"log"`
}

// DefaultStorm returns the storm configuration used without a file.
func DefaultStorm() Storm {
	return Storm{
		Server:        fmt.Sprintf("http://%s:%d", DefaultHost, DefaultPort),
		Mode:          string(session.ModeJustAbort),
		KeysPerSecond: DefaultKeysPerSecond,
		Sessions:      DefaultSessions,
		Phrases:       []string{"Ezekiel"},
		Log:           Log{Level: "warn", Format: "text"},
	}
}

// Validate reports every problem at once.
func (s *Storm) Validate() error {
	var errs []error
	if u, err := url.Parse(s.Server); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server: must be an http(s) URL, got %q", s.Server))
	}
	if _, err := session.ParseMode(s.Mode); err != nil {
		errs = append(errs, fmt.Errorf("mode: %w", err))
	}
	if s.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce: must be >= 0, got %v", s.Debounce))
	}
	if err := session.ValidateDelays(s.Delays); err != nil {
		errs = append(errs, fmt.Errorf("delays: %w", err))
	}
	if s.KeysPerSecond < 0 {
		errs = append(errs, fmt.Errorf("keysPerSecond: must be >= 0, got %v", s.KeysPerSecond))
	}
	if s.Sessions < 1 {
		errs = append(errs, fmt.Errorf("sessions: must be >= 1, got %d", s.Sessions))
	}
	if len(s.Phrases) == 0 {
		errs = append(errs, errors.New("phrases: at least one phrase is required"))
	}
	for i, p := range s.Phrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("phrases[%d]: must not be blank", i))
		}
	}
	if p := s.Probe; p != nil {
		if strings.TrimSpace(p.Query) == "" {
			errs = append(errs, errors.New("probe.query: must not be blank"))
		}
		if p.Delay <= 0 {
			errs = append(errs, fmt.Errorf("probe.delay: must be > 0, got %d", p.Delay))
		}
		if p.After <= 0 {
			errs = append(errs, fmt.Errorf("probe.after: must be > 0, got %v", p.After))
		} else if p.Delay > 0 && p.After >= time.Duration(p.Delay)*time.Millisecond {
			errs = append(errs, fmt.Errorf("probe.after: %v must be shorter than the delay (%dms)", p.After, p.Delay))
		}
	}
	if err := s.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	errs = append(errs, s.Log.validate()...)
	return errors.Join(errs...)
}

// LoadServer reads a server configuration. An empty path yields defaults.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

// LoadStorm reads a storm scenario. An empty path yields defaults.
func LoadStorm(path string) (*Storm, error) {
	cfg := DefaultStorm()
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Probe != nil && cfg.Probe.Delay == 0 {
		cfg.Probe.Delay = DefaultProbeDelay
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storm config: %w", err)
	}
	return &cfg, nil
}

// load unmarshals the file at path over the defaults already in out.
func load(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}
