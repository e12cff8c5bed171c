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
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/v0xg/sitecrawl/internal/ai"
	"github.com/v0xg/sitecrawl/internal/config"
	"github.com/v0xg/sitecrawl/internal/crawler"
	"github.com/v0xg/sitecrawl/internal/evidence"
	"github.com/v0xg/sitecrawl/internal/metrics"
	"github.com/v0xg/sitecrawl/internal/report"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [base-url]",
		Short: "Crawl every identity and report the verdict",
		Long: `Discover routes, actuate every control on every route for each configured
identity and print the verdict. The exit code is 0 when no server error was
observed, 1 when the run failed and 2 on any other error.`,
		Example: `  sitecrawl run http://localhost:3000
  sitecrawl run --driver http --seed /admin --json report.json http://localhost:8080`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("json") {
				cfg.Report.JSON, _ = f.GetString("json")
			}
			if f.Changed("markdown") {
				cfg.Report.Markdown, _ = f.GetString("markdown")
			}
			if f.Changed("evidence") {
				cfg.Evidence.Dir, _ = f.GetString("evidence")
			}
			if f.Changed("metrics-textfile") {
				cfg.Metrics.Textfile, _ = f.GetString("metrics-textfile")
			}
			if f.Changed("triage") {
				cfg.Triage.Provider, _ = f.GetString("triage")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			ids, err := selectedIdentities(cmd, cfg)
			if err != nil {
				return err
			}
			listen, _ := f.GetString("metrics-listen")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCrawl(ctx, cmd.OutOrStdout(), cmdLogger(cmd), cfg, ids, listen)
		},
	}
	addCrawlFlags(cmd)
	f := cmd.Flags()
	f.String("json", "", "Write the JSON report to this file")
	f.String("markdown", "", "Write the Markdown report to this file")
	f.String("evidence", "", "Write GIF replays of routes with anomalies to this directory (rod driver)")
	f.String("metrics-textfile", "", "Write Prometheus metrics to this file when done")
	f.String("metrics-listen", "", "Serve Prometheus metrics on this address while running")
	f.String("triage", "", "Ask a model to triage the report: claude or openai")
	return cmd
}

func runCrawl(ctx context.Context, out io.Writer, log *slog.Logger, cfg *config.Config, ids []crawler.Identity, listen string) error {
	started := time.Now()
	opts, err := cfg.CrawlerOptions()
	if err != nil {
		return err
	}
	opts.Logger = log

	done := step(out, "Starting %s driver", cfg.Driver)
	driver, release, err := openDriver(ctx, cfg, log)
	if err != nil {
		done("failed")
		return fmt.Errorf("start driver: %w", err)
	}
	defer release()
	done("done")

	collector := metrics.New()
	opts.Listeners = append(opts.Listeners, collector, newProgress(out))
	if listen != "" {
		shutdown, err := serveMetrics(listen, collector, log)
		if err != nil {
			return err
		}
		defer shutdown()
		fmt.Fprintf(out, "  metrics on http://%s/metrics\n", listen)
	}

	var recorder *evidence.Recorder
	if cfg.Evidence.Dir != "" {
		if cfg.Driver != config.DriverRod {
			log.Warn("sitecrawl: evidence needs the rod driver, skipping", "driver", cfg.Driver)
		} else {
			recorder, err = evidence.NewRecorder(evidence.Config{
				Dir:       cfg.Evidence.Dir,
				MaxFrames: cfg.Evidence.MaxFrames,
				Width:     uint(cfg.Evidence.Width),
				Timeout:   cfg.Timeouts.Action,
				Logger:    log,
			})
			if err != nil {
				return err
			}
			opts.Listeners = append(opts.Listeners, recorder)
		}
	}

	fmt.Fprintf(out, "→ Crawling %s as %d identit%s\n", cfg.BaseURL, len(ids), plural(len(ids), "y", "ies"))
	results, err := crawler.RunIdentities(ctx, driver, ids, opts)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	rep := report.New(getVersion(), cfg.BaseURL, cfg.Driver, started, results)
	if recorder != nil {
		rep.Evidence = recorder.Evidence()
	}
	if cfg.Triage.Provider != "" {
		runTriage(ctx, out, log, cfg.Triage, rep)
	}
	if err := writeOutputs(out, cfg, rep, collector); err != nil {
		return err
	}

	t := rep.Totals()
	if rep.Pass {
		fmt.Fprintf(out, "PASS: %d routes, %d actuations, %d console errors, %d failed responses\n",
			t.Routes, t.Actuations, t.ConsoleErrors, t.NetworkFailures)
		return nil
	}
	fmt.Fprintf(out, "FAIL: %d server error(s)\n", t.ServerErrors)
	for _, s := range rep.Sessions {
		if !s.Verdict.Pass {
			fmt.Fprintf(out, "  %s: %s\n", s.Identity, s.Verdict.Reason)
		}
	}
	return errRunFailed
}

// runTriage attaches a model's triage to the report. Failures are logged.
func runTriage(ctx context.Context, out io.Writer, log *slog.Logger, tc config.TriageConfig, rep *report.Report) {
	done := step(out, "Triage via %s", tc.Provider)
	p, err := ai.NewProvider(tc.Provider, ai.Options{Model: tc.Model})
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		var t *ai.Triage
		if t, err = p.Triage(ctx, rep); err == nil {
			rep.Triage = t.Markdown()
		}
	}
	if err != nil {
		done("failed")
		log.Warn("sitecrawl: triage failed", "provider", tc.Provider, "error", err)
		return
	}
	done("done")
}

func writeOutputs(out io.Writer, cfg *config.Config, rep *report.Report, collector *metrics.Collector) error {
	if p := cfg.Report.JSON; p != "" {
		done := step(out, "Writing %s", p)
		if err := report.WriteFile(p, rep, func(w io.Writer) report.Writer {
			return report.NewJSONWriter(w, report.WithPrettyPrint())
		}); err != nil {
			done("failed")
			return err
		}
		done("done")
	}
	if p := cfg.Report.Markdown; p != "" {
		done := step(out, "Writing %s", p)
		if err := report.WriteFile(p, rep, func(w io.Writer) report.Writer {
			return report.NewMarkdownWriter(w)
		}); err != nil {
			done("failed")
			return err
		}
		done("done")
	}
	if p := cfg.Metrics.Textfile; p != "" {
		done := step(out, "Writing %s", p)
		if err := collector.WriteTextfile(p); err != nil {
			done("failed")
			return err
		}
		done("done")
	}
	return nil
}

// serveMetrics serves the collector on addr until the returned func is called.
func serveMetrics(addr string, c *metrics.Collector, log *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("sitecrawl: metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// progress prints one line per finished session.
type progress struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgress(out io.Writer) *progress { return &progress{out: out} }

func (p *progress) RouteDone(crawler.RouteEvent)    {}
func (p *progress) Actuated(crawler.ActuationEvent) {}

func (p *progress) SessionDone(res *crawler.SessionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mark := "✓"
	if !res.Verdict.Pass {
		mark = "✗"
	}
	fmt.Fprintf(p.out, "  %s %s: %d routes, %d actuations, %d console errors, %d failed responses (%s)\n",
		mark, res.Identity, len(res.Routes), res.Actuations.Attempted,
		len(res.ConsoleErrors), len(res.NetworkFailures), res.Duration.Round(time.Millisecond))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
