// Command searchd serves the cancellable user search endpoint.
//
// Usage:
//
//	searchd [flags]
//
// The port defaults to $PORT, then 5010.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"searchflight/internal/config"
	"searchflight/internal/dataset"
	"searchflight/internal/logging"
	"searchflight/internal/server"
)

type options struct {
	configPath string
	host       string
	port       int
	data       string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "searchd",
		Short:         "Serve POST /search with optional artificial delay and client cancellation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := serve(ctx, cfg, cmd.OutOrStdout()); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to YAML server config")
	flags.StringVar(&opts.host, "host", config.DefaultHost, "host to bind to")
	flags.IntVar(&opts.port, "port", defaultPort(), "port to listen on (env PORT)")
	flags.StringVar(&opts.data, "data", "", "JSON file of users (default: embedded set)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text, json")
	return cmd
}

func defaultPort() int {
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		return p
	}
	return config.DefaultPort
}

// loadConfig reads the config file and applies flags the user set.
func loadConfig(cmd *cobra.Command, opts options) (*config.Server, error) {
	cfg, err := config.LoadServer(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("host") || opts.configPath == "" {
		cfg.Host = opts.host
	}
	if flags.Changed("port") || opts.configPath == "" {
		cfg.Port = opts.port
	}
	if flags.Changed("data") {
		cfg.Data = opts.data
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Server, out io.Writer) error {
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "searchd"})
	if err != nil {
		return err
	}

	data, err := loadDataset(cfg.Data)
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		Dataset:     data,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		Compress:    cfg.Compress,
	}
	if cfg.AccessLog {
		srvCfg.AccessLog = out
	}
	srv, err := server.NewServer(srvCfg)
	if err != nil {
		return err
	}

	addr := cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("port %d is already in use; stop the other process or pass --port", cfg.Port)
		}
		return err
	}

	fmt.Fprintln(out, "Searchflight Server")
	fmt.Fprintln(out, "===================")
	fmt.Fprintf(out, "Listening on http://%s (%d users from %s)\n\n", ln.Addr(), data.Len(), data.Name())
	fmt.Fprintln(out, "Endpoints:")
	for _, e := range server.Endpoints() {
		fmt.Fprintf(out, "  %s\n", e)
	}
	fmt.Fprintln(out)

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		if cfg.ShutdownTimeout == 0 {
			return httpServer.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func loadDataset(path string) (*dataset.Dataset, error) {
	if path == "" {
		return dataset.Default()
	}
	return dataset.LoadFile(path)
}
