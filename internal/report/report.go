// Package report renders the results of a crawl run as JSON or Markdown.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

// Evidence points at a replay written for a route that produced anomalies.
type Evidence struct {
	Identity string            `json:"identity"`
	Route    crawler.RoutePath `json:"route"`
	Path     string            `json:"path"`
}

// Report is one run of the crawler across all identities.
type Report struct {
	Version   string                   `json:"version"`
	BaseURL   string                   `json:"base_url"`
	Driver    string                   `json:"driver"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
	Pass      bool                     `json:"pass"`
	Sessions  []*crawler.SessionResult `json:"sessions"`
	Evidence  []Evidence               `json:"evidence,omitempty"`
	Triage    string                   `json:"triage,omitempty"`
}

// New builds a report. The run passes only when every session passed; a
// session cut short by cancellation leaves a nil result and fails the run.
func New(version, baseURL, driver string, started time.Time, results []*crawler.SessionResult) *Report {
	sessions := make([]*crawler.SessionResult, 0, len(results))
	for _, s := range results {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	return &Report{
		Version:   version,
		BaseURL:   baseURL,
		Driver:    driver,
		StartedAt: started,
		Duration:  time.Since(started),
		Pass:      crawler.Passed(results),
		Sessions:  sessions,
	}
}

// Totals sums the sessions' findings.
type Totals struct {
	Routes          int
	Actuations      int
	ConsoleErrors   int
	NetworkFailures int
	ServerErrors    int
}

// Totals sums routes, actuations and anomalies over all sessions.
func (r *Report) Totals() Totals {
	var t Totals
	for _, s := range r.Sessions {
		t.Routes += len(s.Routes)
		t.Actuations += s.Actuations.Attempted
		t.ConsoleErrors += len(s.ConsoleErrors)
		t.NetworkFailures += len(s.NetworkFailures)
		t.ServerErrors += len(s.Verdict.ServerErrors)
	}
	return t
}

// Writer outputs a report.
type Writer interface {
	Write(r *Report) (int, error)
}

// WriteFile creates path (and its directory) and writes r to it with the
// writer newWriter returns.
func WriteFile(path string, r *Report, newWriter func(io.Writer) Writer) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // user-provided output path
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	if _, err := newWriter(f).Write(r); err != nil {
		_ = f.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return f.Close()
}
