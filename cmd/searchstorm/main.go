// Command searchstorm types search phrases against searchd one keystroke
// at a time and reports how the superseded searches ended.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"searchflight/internal/collector"
	"searchflight/internal/config"
	transport "searchflight/internal/http"
	"searchflight/internal/logging"
	"searchflight/internal/progress"
	"searchflight/internal/storm"
)

const (
	ExitSuccess         = 0
	ExitThresholdFailed = 1
	ExitError           = 2
)

// errThresholds marks a run that completed but missed its thresholds.
var errThresholds = errors.New("threshold check failed")

type options struct {
	configPath string
	server     string
	sessions   int
	mode       string
	output     string
	quiet      bool
	verbose    bool
}

func main() {
	err := newRootCmd().Execute()
	switch {
	case err == nil:
		os.Exit(ExitSuccess)
	case errors.Is(err, errThresholds):
		os.Exit(ExitThresholdFailed)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ExitError)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "searchstorm",
		Short:         "Type phrases into simulated search boxes and check what each one settles on",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("--output must be 'text' or 'json', got %q", opts.output)
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to YAML scenario (default: built-in scenario)")
	flags.StringVar(&opts.server, "server", "", "server base URL, overrides the scenario")
	flags.IntVar(&opts.sessions, "sessions", 0, "concurrent sessions, overrides the scenario")
	flags.StringVar(&opts.mode, "mode", "", "trigger mode: just-abort or abort-debounced")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text, json")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every request and response")
	return cmd
}

// loadConfig reads the scenario and applies flags the user set.
func loadConfig(cmd *cobra.Command, opts options) (*config.Storm, error) {
	cfg, err := config.LoadStorm(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server = opts.server
	}
	if flags.Changed("sessions") {
		cfg.Sessions = opts.sessions
	}
	if flags.Changed("mode") {
		cfg.Mode = opts.mode
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Storm, opts options) error {
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "searchstorm"})
	if err != nil {
		return err
	}

	var debug *transport.DebugLogger
	if opts.verbose {
		debug = transport.NewDebugLogger(logger)
	}

	runner, err := storm.New(cfg, storm.Options{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
		Debug:      debug,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	prog := progress.NewProgress(runner.Collector(), opts.quiet || opts.output == "json")
	prog.Printf("Searchstorm starting: %d session(s), mode %s, %d phrase(s) against %s",
		cfg.Sessions, cfg.Mode, len(cfg.Phrases), cfg.Server)
	prog.Start()
	report, err := runner.Run(ctx)
	prog.Stop()
	if err != nil {
		return err
	}
	if report.Interrupted {
		prog.Print("Interrupted, reporting partial results")
	}

	if opts.output == "json" {
		collector.FormatJSON(os.Stdout, report.Metrics, report.Thresholds)
	} else {
		collector.FormatText(os.Stdout, report.Metrics, report.Thresholds)
		storm.FormatProbe(os.Stdout, report.Probe)
	}

	if report.Interrupted || report.Passed() {
		return nil
	}
	if opts.output == "text" {
		fmt.Fprintln(os.Stderr, "\nThreshold check failed!")
	}
	return errThresholds
}
