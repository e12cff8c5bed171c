package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/v0xg/sitecrawl/internal/crawler"
	"github.com/v0xg/sitecrawl/internal/report"
)

// Per-session caps on what is sent to the model.
const (
	maxFailures      = 30
	maxConsoleErrors = 30
	maxMessageLen    = 300
)

const systemPrompt = `You are triaging the output of an automated web crawler that visited every route of an application, interacted with every control, and recorded console errors and failed HTTP responses.

You will receive a JSON digest with one entry per simulated user identity.

Rules of the run:
- Any 5xx response fails the run. 4xx responses and console errors are reported but do not fail it.
- The same backend fault often shows up under several identities and routes; group them.
- Identities differ only in credentials, so a failure seen for one identity but not another usually points at authorization or tier-specific code.

Output a JSON object:
{
  "summary": "two or three sentences for a developer reading a CI log",
  "findings": [
    {"identities": ["premium"], "target": "503 http://app/api/stats", "likely_cause": "...", "next_step": "..."}
  ]
}

Order findings by severity, server errors first. Use at most 8 findings. Do not invent URLs or identities that are not in the digest.

Respond ONLY with the JSON object, no explanation or markdown.`

type digest struct {
	BaseURL  string          `json:"base_url"`
	Pass     bool            `json:"pass"`
	Sessions []sessionDigest `json:"sessions"`
}

type sessionDigest struct {
	Identity        string                 `json:"identity"`
	Pass            bool                   `json:"pass"`
	Routes          []crawler.RoutePath    `json:"routes"`
	ServerErrors    []string               `json:"server_errors,omitempty"`
	OtherFailures   []string               `json:"other_failures,omitempty"`
	ConsoleErrors   []string               `json:"console_errors,omitempty"`
	SkippedSteps    []crawler.RouteFailure `json:"skipped_steps,omitempty"`
	Actuations      crawler.ActuationStats `json:"actuations"`
	OmittedMessages int                    `json:"omitted_messages,omitempty"`
}

func buildDigest(r *report.Report) digest {
	d := digest{BaseURL: r.BaseURL, Pass: r.Pass}
	for _, s := range r.Sessions {
		sd := sessionDigest{
			Identity:     s.Identity,
			Pass:         s.Verdict.Pass,
			Routes:       s.Routes,
			SkippedSteps: s.RouteFailures,
			Actuations:   s.Actuations,
		}
		for _, f := range s.NetworkFailures {
			if f.ServerError() {
				sd.ServerErrors = append(sd.ServerErrors, f.String())
			} else {
				sd.OtherFailures = append(sd.OtherFailures, f.String())
			}
		}
		sd.ServerErrors, sd.OmittedMessages = capList(dedup(sd.ServerErrors), maxFailures, sd.OmittedMessages)
		sd.OtherFailures, sd.OmittedMessages = capList(dedup(sd.OtherFailures), maxFailures, sd.OmittedMessages)

		msgs := make([]string, len(s.ConsoleErrors))
		for i, m := range s.ConsoleErrors {
			msgs[i] = clip(m, maxMessageLen)
		}
		sd.ConsoleErrors, sd.OmittedMessages = capList(dedup(msgs), maxConsoleErrors, sd.OmittedMessages)
		d.Sessions = append(d.Sessions, sd)
	}
	return d
}

func buildUserPrompt(r *report.Report) (string, error) {
	data, err := json.MarshalIndent(buildDigest(r), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report digest: %w", err)
	}
	return "Crawl digest:\n" + string(data), nil
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func capList(in []string, n, omitted int) ([]string, int) {
	if len(in) <= n {
		return in, omitted
	}
	return in[:n], omitted + len(in) - n
}

func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

// Triage is the model's reading of a report.
type Triage struct {
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings"`
}

// Finding groups anomalies that likely share one cause.
type Finding struct {
	Identities  []string `json:"identities"`
	Target      string   `json:"target"`
	LikelyCause string   `json:"likely_cause"`
	NextStep    string   `json:"next_step"`
}

// Markdown renders the triage for the report.
func (t *Triage) Markdown() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.Summary))
	for _, f := range t.Findings {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "- `%s`", f.Target)
		if len(f.Identities) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(f.Identities, ", "))
		}
		if f.LikelyCause != "" {
			b.WriteString(": " + f.LikelyCause)
		}
		if f.NextStep != "" {
			b.WriteString(" Next: " + f.NextStep)
		}
	}
	return b.String()
}

// parseTriageJSON extracts and parses a JSON object from a response that may
// contain surrounding text or a code fence.
func parseTriageJSON(response string) (*Triage, error) {
	var t Triage
	if err := json.Unmarshal([]byte(response), &t); err == nil {
		return &t, nil
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	depth, end := 0, -1
	inString, escaped := false, false
scan:
	for i := start; i < len(response); i++ {
		c := response[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				end = i + 1
				break scan
			}
		}
	}
	if end == -1 {
		return nil, fmt.Errorf("no matching closing brace found")
	}

	if err := json.Unmarshal([]byte(response[start:end]), &t); err != nil {
		return nil, fmt.Errorf("failed to parse extracted JSON: %w", err)
	}
	return &t, nil
}
