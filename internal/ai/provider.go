// Package ai asks a language model to triage a finished crawl report. The
// answer is advisory and never changes the verdict.
package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/v0xg/sitecrawl/internal/report"
)

// Provider triages a report.
type Provider interface {
	Triage(ctx context.Context, r *report.Report) (*Triage, error)
}

// Options configure a provider.
type Options struct {
	Model   string
	APIKey  string // empty = read from the environment
	BaseURL string // empty = the vendor's endpoint
}

// NewProvider creates a provider by name: claude (anthropic) or openai (gpt).
func NewProvider(name string, opts Options) (Provider, error) {
	switch strings.ToLower(name) {
	case "claude", "anthropic":
		return NewClaudeProvider(opts)
	case "openai", "gpt":
		return NewOpenAIProvider(opts)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", name)
	}
}

// apiKey returns explicit, else the first non-empty environment variable.
func apiKey(explicit string, vars ...string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, v := range vars {
		if k := os.Getenv(v); k != "" {
			return k, nil
		}
	}
	return "", fmt.Errorf("%s environment variable required", strings.Join(vars, " or "))
}

// completer sends one system+user exchange and returns the reply text.
type completer func(ctx context.Context, system, user string) (string, error)

func triage(ctx context.Context, vendor string, complete completer, r *report.Report) (*Triage, error) {
	user, err := buildUserPrompt(r)
	if err != nil {
		return nil, err
	}
	text, err := complete(ctx, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", vendor, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty response from %s", vendor)
	}
	t, err := parseTriageJSON(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s response as JSON: %w", vendor, err)
	}
	return t, nil
}
