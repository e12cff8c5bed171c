package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/sitecrawl/internal/crawler"
	"github.com/v0xg/sitecrawl/internal/report"
)

const answer = `{"summary":"The stats API is down for premium users.","findings":[{"identities":["premium"],"target":"503 http://app.test/api/stats","likely_cause":"stats backend unavailable","next_step":"check the stats service logs"}]}`

func sampleReport() *report.Report {
	failures := []crawler.NetworkFailure{
		{Status: 503, URL: "http://app.test/api/stats"},
		{Status: 503, URL: "http://app.test/api/stats"},
		{Status: 404, URL: "http://app.test/favicon.ico"},
	}
	return report.New("dev", "http://app.test", "rod", time.Now(), []*crawler.SessionResult{{
		Identity:        "premium",
		Routes:          []crawler.RoutePath{"/", "/billing"},
		ConsoleErrors:   []string{"  stats failed  ", "stats failed", strings.Repeat("x", 400)},
		NetworkFailures: failures,
		Verdict:         crawler.Judge(failures),
	}})
}

func TestBuildDigest(t *testing.T) {
	d := buildDigest(sampleReport())
	assert.False(t, d.Pass)
	require.Len(t, d.Sessions, 1)
	s := d.Sessions[0]
	assert.Equal(t, []string{"503 http://app.test/api/stats"}, s.ServerErrors)
	assert.Equal(t, []string{"404 http://app.test/favicon.ico"}, s.OtherFailures)
	require.Len(t, s.ConsoleErrors, 2)
	assert.Equal(t, "stats failed", s.ConsoleErrors[0])
	assert.Equal(t, maxMessageLen+1, len([]rune(s.ConsoleErrors[1])))

	prompt, err := buildUserPrompt(sampleReport())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "Crawl digest:\n{"))
	assert.Contains(t, prompt, `"identity": "premium"`)
}

func TestCapList(t *testing.T) {
	in := []string{"a", "b", "c", "d"}
	out, omitted := capList(in, 2, 1)
	assert.Equal(t, []string{"a", "b"}, out)
	assert.Equal(t, 3, omitted)

	out, omitted = capList(in, 10, 0)
	assert.Equal(t, in, out)
	assert.Zero(t, omitted)
}

func TestParseTriageJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  string
	}{
		{"bare", answer, ""},
		{"fenced", "Here you go:\n```json\n" + answer + "\n```\n", ""},
		{"brace in string", `Sure. {"summary":"a } b","findings":[]} trailing`, ""},
		{"no object", "I cannot help with that.", "no JSON object"},
		{"unterminated", `{"summary":"x"`, "no matching closing brace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTriageJSON(tt.response)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got.Summary)
		})
	}

	got, err := parseTriageJSON(`{"summary":"a } b","findings":[]}`)
	require.NoError(t, err)
	assert.Equal(t, "a } b", got.Summary)
}

func TestTriageMarkdown(t *testing.T) {
	tr, err := parseTriageJSON(answer)
	require.NoError(t, err)
	assert.Equal(t,
		"The stats API is down for premium users.\n\n"+
			"- `503 http://app.test/api/stats` (premium): stats backend unavailable Next: check the stats service logs",
		tr.Markdown())
}

func TestTriageErrors(t *testing.T) {
	ctx := context.Background()
	fail := func(context.Context, string, string) (string, error) { return "", fmt.Errorf("rate limited") }
	_, err := triage(ctx, "Test", fail, sampleReport())
	assert.ErrorContains(t, err, "Test API error: rate limited")

	empty := func(context.Context, string, string) (string, error) { return " ", nil }
	_, err = triage(ctx, "Test", empty, sampleReport())
	assert.ErrorContains(t, err, "empty response from Test")

	var gotSystem string
	ok := func(_ context.Context, system, _ string) (string, error) {
		gotSystem = system
		return answer, nil
	}
	tr, err := triage(ctx, "Test", ok, sampleReport())
	require.NoError(t, err)
	assert.Equal(t, systemPrompt, gotSystem)
	require.Len(t, tr.Findings, 1)
}

func TestNewProvider(t *testing.T) {
	t.Setenv("SITECRAWL_ANTHROPIC_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SITECRAWL_OPENAI_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewProvider("gemini", Options{})
	assert.ErrorContains(t, err, "unknown provider")

	_, err = NewProvider("claude", Options{})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	t.Setenv("OPENAI_API_KEY", "sk-test")
	p, err := NewProvider("GPT", Options{})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)
	assert.Equal(t, "gpt-4o", p.(*OpenAIProvider).model)

	p, err = NewProvider("anthropic", Options{APIKey: "k", Model: "claude-test"})
	require.NoError(t, err)
	assert.Equal(t, "claude-test", p.(*ClaudeProvider).model)
}

func TestOpenAIProvider(t *testing.T) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": answer},
			}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	tr, err := p.Triage(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Equal(t, "The stats API is down for premium users.", tr.Summary)

	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "503 http://app.test/api/stats")
}

func TestClaudeProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k-test", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": "```json\n" + answer + "\n```"}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	p, err := NewClaudeProvider(Options{APIKey: "k-test", BaseURL: srv.URL, Model: "claude-test"})
	require.NoError(t, err)
	tr, err := p.Triage(context.Background(), sampleReport())
	require.NoError(t, err)
	require.Len(t, tr.Findings, 1)
	assert.Equal(t, []string{"premium"}, tr.Findings[0].Identities)
}
