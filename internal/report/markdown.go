package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

// maxConsoleErrors caps the console errors listed per identity.
const maxConsoleErrors = 20

// MarkdownWriter outputs reports in Markdown for pull requests and CI
// summaries.
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output}
}

// Write outputs the full report.
func (w *MarkdownWriter) Write(r *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, r)
	w.writeSummary(md, r)
	for _, s := range r.Sessions {
		w.writeSession(md, s, r.Evidence)
	}
	w.writeTriage(md, r)
	w.writeFooter(md, r)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, r *Report) {
	md.H1("sitecrawl report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Target", "`" + r.BaseURL + "`"},
			{"Driver", r.Driver},
			{"Started", r.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", r.Duration.Round(time.Millisecond).String()},
			{"Identities", strconv.Itoa(len(r.Sessions))},
			{"Verdict", verdictText(r.Pass)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, r *Report) {
	t := r.Totals()
	md.H2("Summary")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Identity", "Routes", "Actuations", "Console errors", "Network failures", "Server errors", "Verdict"},
		Rows:   summaryRows(r.Sessions),
	})
	md.PlainText("")

	if t.ConsoleErrors+t.NetworkFailures > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Anomalies"),
			piechart.WithShowData(true),
		)
		if t.ServerErrors > 0 {
			chart.LabelAndIntValue("5xx responses", uint64(t.ServerErrors))
		}
		if n := t.NetworkFailures - t.ServerErrors; n > 0 {
			chart.LabelAndIntValue("other failed responses", uint64(n))
		}
		if t.ConsoleErrors > 0 {
			chart.LabelAndIntValue("console errors", uint64(t.ConsoleErrors))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case t.ServerErrors > 0:
		md.Cautionf("%d server error(s) observed. The run fails.", t.ServerErrors)
	case !r.Pass:
		md.Warningf("The run did not complete for every identity.")
	case t.ConsoleErrors+t.NetworkFailures > 0:
		md.Note("Only client errors and console errors were observed. They are reported but do not fail the run.")
	default:
		md.Tip("No anomalies observed.")
	}
	md.PlainText("")
}

func summaryRows(sessions []*crawler.SessionResult) [][]string {
	rows := make([][]string, len(sessions))
	for i, s := range sessions {
		rows[i] = []string{
			s.Identity,
			strconv.Itoa(len(s.Routes)),
			strconv.Itoa(s.Actuations.Attempted),
			strconv.Itoa(len(s.ConsoleErrors)),
			strconv.Itoa(len(s.NetworkFailures)),
			strconv.Itoa(len(s.Verdict.ServerErrors)),
			verdictText(s.Verdict.Pass),
		}
	}
	return rows
}

func (w *MarkdownWriter) writeSession(md *markdown.Markdown, s *crawler.SessionResult, evidence []Evidence) {
	md.H2("Identity: " + s.Identity)
	md.PlainText("")

	a := s.Actuations
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Session", "`" + s.SessionID + "`"},
			{"Duration", s.Duration.Round(time.Millisecond).String()},
			{"Actuations", fmt.Sprintf("%d attempted, %d failed", a.Attempted, a.Failed)},
			{"Navigations", strconv.Itoa(a.Navigations)},
			{"Overlays", fmt.Sprintf("%d dismissed, %d stuck", a.OverlaysDismissed, a.OverlaysStuck)},
			{"Verdict", verdictText(s.Verdict.Pass)},
		},
	})
	md.PlainText("")
	if s.Verdict.Reason != "" {
		md.PlainText(s.Verdict.Reason)
		md.PlainText("")
	}

	md.H3("Routes")
	md.PlainText("")
	md.BulletList(codeList(s.Routes)...)
	md.PlainText("")
	if len(s.Reached) > 0 {
		md.PlainText("Reached only through interaction:")
		md.PlainText("")
		md.BulletList(codeList(s.Reached)...)
		md.PlainText("")
	}

	if len(s.NetworkFailures) > 0 {
		md.H3("Failed responses")
		md.PlainText("")
		rows := make([][]string, len(s.NetworkFailures))
		for i, f := range s.NetworkFailures {
			sev := "reported"
			if f.ServerError() {
				sev = "**fails run**"
			}
			rows[i] = []string{strconv.Itoa(f.Status), "`" + f.URL + "`", sev}
		}
		md.Table(markdown.TableSet{Header: []string{"Status", "URL", "Effect"}, Rows: rows})
		md.PlainText("")
	}

	if len(s.ConsoleErrors) > 0 {
		md.H3("Console errors")
		md.PlainText("")
		shown := s.ConsoleErrors
		if len(shown) > maxConsoleErrors {
			shown = shown[:maxConsoleErrors]
		}
		items := make([]string, len(shown))
		for i, e := range shown {
			items[i] = truncate(oneLine(e), 160)
		}
		md.BulletList(items...)
		if extra := len(s.ConsoleErrors) - len(shown); extra > 0 {
			md.PlainTextf("... and %d more", extra)
		}
		md.PlainText("")
	}

	if len(s.RouteFailures) > 0 {
		md.H3("Skipped steps")
		md.PlainText("")
		rows := make([][]string, len(s.RouteFailures))
		for i, f := range s.RouteFailures {
			rows[i] = []string{"`" + string(f.Route) + "`", f.Step, truncate(oneLine(f.Error), 100)}
		}
		md.Table(markdown.TableSet{Header: []string{"Route", "Step", "Error"}, Rows: rows})
		md.PlainText("")
	}

	var replays []string
	for _, e := range evidence {
		if e.Identity == s.Identity {
			replays = append(replays, fmt.Sprintf("`%s`: %s", e.Route, e.Path))
		}
	}
	if len(replays) > 0 {
		md.H3("Replays")
		md.PlainText("")
		md.BulletList(replays...)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeTriage(md *markdown.Markdown, r *Report) {
	if r.Triage == "" {
		return
	}
	md.H2("Triage")
	md.PlainText("")
	md.Note("Generated by a language model. It does not affect the verdict.")
	md.PlainText("")
	md.PlainText(r.Triage)
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, r *Report) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by sitecrawl %s*", r.Version)
}

func verdictText(pass bool) string {
	if pass {
		return "✅ pass"
	}
	return "❌ fail"
}

func codeList(routes []crawler.RoutePath) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = "`" + string(r) + "`"
	}
	return out
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(strings.TrimSpace(s), "|", `\|`)
}

// truncate shortens s to at most n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
