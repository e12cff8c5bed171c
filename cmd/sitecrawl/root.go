package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/v0xg/sitecrawl/internal/browser"
	"github.com/v0xg/sitecrawl/internal/config"
	"github.com/v0xg/sitecrawl/internal/crawler"
	"github.com/v0xg/sitecrawl/internal/httpdriver"
)

// errRunFailed is returned when the verdict is fail. It maps to exit code 1;
// every other error exits with 2.
var errRunFailed = errors.New("run failed")

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitecrawl",
		Short: "Crawl a web app, poke every control and fail on server errors",
		Long: `sitecrawl discovers the routes of a running web application by following its
links, performs one action on every interactive control of every route
(click, type, check, select), dismisses dialogs that get in the way and
records console errors and failed responses.

A run fails only when the application answers with a 5xx status. Client
errors and console errors are reported but tolerated.

Settings come from a YAML file (default: ` + config.DefaultPath() + `)
overridden by flags.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Configuration file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewRoutesCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if errors.Is(err, errRunFailed) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

// addCrawlFlags registers the flags shared by run and routes. They override
// the configuration file only when set.
func addCrawlFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("start", "", "Route to start from (default /)")
	f.StringArray("seed", nil, "Route to crawl even if nothing links to it (repeatable)")
	f.StringArray("exclude", nil, "Route pattern never to queue, path.Match syntax (repeatable)")
	f.Int("max-routes", 0, "Stop discovering after this many routes (0 = unlimited)")
	f.String("driver", "", "Driver: rod (headless Chrome) or http (no JavaScript)")
	f.StringSlice("identity", nil, "Only run the named identities from the configuration")
	f.Int("parallel", 0, "Identities crawled at once")
	f.Duration("load-timeout", 0, "Timeout for one route load")
	f.Duration("action-timeout", 0, "Timeout for one element action")
	f.String("remote", "", "WebSocket URL of a running Chrome")
	f.Bool("headful", false, "Show the browser window")
	f.Bool("stealth", false, "Hide common automation fingerprints")
}

// loadConfig reads the configuration file, applies flags and the optional
// base URL argument, and validates the result.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.BaseURL = args[0]
	}

	f := cmd.Flags()
	if f.Changed("start") {
		cfg.Start, _ = f.GetString("start")
	}
	if f.Changed("seed") {
		seeds, _ := f.GetStringArray("seed")
		cfg.Seeds = append(cfg.Seeds, seeds...)
	}
	if f.Changed("exclude") {
		exclude, _ := f.GetStringArray("exclude")
		cfg.Exclude = append(cfg.Exclude, exclude...)
	}
	if f.Changed("max-routes") {
		cfg.MaxRoutes, _ = f.GetInt("max-routes")
	}
	if f.Changed("driver") {
		cfg.Driver, _ = f.GetString("driver")
	}
	if f.Changed("parallel") {
		cfg.Parallel, _ = f.GetInt("parallel")
	}
	if f.Changed("load-timeout") {
		cfg.Timeouts.Load, _ = f.GetDuration("load-timeout")
	}
	if f.Changed("action-timeout") {
		cfg.Timeouts.Action, _ = f.GetDuration("action-timeout")
	}
	if f.Changed("remote") {
		cfg.Browser.Remote, _ = f.GetString("remote")
	}
	if f.Changed("headful") {
		cfg.Browser.Headful, _ = f.GetBool("headful")
	}
	if f.Changed("stealth") {
		cfg.Browser.Stealth, _ = f.GetBool("stealth")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func selectedIdentities(cmd *cobra.Command, cfg *config.Config) ([]crawler.Identity, error) {
	names, _ := cmd.Flags().GetStringSlice("identity")
	return cfg.SelectIdentities(names)
}

// newLogger logs to w at warn level, debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func cmdLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return newLogger(cmd.ErrOrStderr(), verbose)
}

// openDriver starts the configured driver. The returned func releases it.
func openDriver(ctx context.Context, cfg *config.Config, log *slog.Logger) (crawler.Driver, func(), error) {
	base, err := cfg.ParseBaseURL()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Driver {
	case config.DriverHTTP:
		d, err := httpdriver.New(httpdriver.Config{
			BaseURL:      base,
			UserAgent:    cfg.HTTP.UserAgent,
			Subresources: cfg.HTTP.FetchSubresources(),
			MaxBody:      cfg.HTTP.MaxBody,
			Logger:       log,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	default:
		m, err := browser.Launch(ctx, browser.Config{
			BaseURL:          base,
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			Headful:          cfg.Browser.Headful,
			Stealth:          cfg.Browser.Stealth,
			IgnoreCertErrors: cfg.Browser.IgnoreCertErrors,
			Width:            cfg.Browser.Width,
			Height:           cfg.Browser.Height,
			Logger:           log,
		})
		if err != nil {
			return nil, nil, err
		}
		return m, func() { _ = m.Close() }, nil
	}
}

// step prints "→ msg... " and returns a func that finishes the line.
func step(w io.Writer, format string, args ...any) func(result string) {
	fmt.Fprintf(w, "→ "+format+"... ", args...)
	return func(result string) {
		fmt.Fprintln(w, result)
	}
}
