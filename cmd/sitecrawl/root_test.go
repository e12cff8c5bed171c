package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/sitecrawl/internal/config"
)

// newApp serves a small site. The stats page pulls a script that answers 503
// when broken is true.
func newApp(t *testing.T, broken bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body>
			<a href="/stats">Stats</a>
			<a href="/about">About</a>
			<button id="noop">Refresh</button>
			</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="/">Home</a>`)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><script src="/api/stats.js"></script></head><body><a href="/">Home</a></body></html>`)
	})
	mux.HandleFunc("/api/stats.js", func(w http.ResponseWriter, r *http.Request) {
		if broken {
			http.Error(w, "stats backend down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `console.log("ok")`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRunPasses(t *testing.T) {
	srv := newApp(t, false)
	cfgPath := writeConfig(t, "driver: http\n")
	mdPath := filepath.Join(t.TempDir(), "report.md")

	out, err := execute(t, "run", "--config", cfgPath, "--markdown", mdPath, srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "→ Starting http driver... done")
	assert.Contains(t, out, "✓ anonymous: 3 routes")
	assert.Contains(t, out, "PASS: 3 routes")

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "✅ pass")
}

func TestRunFailsOnServerError(t *testing.T) {
	srv := newApp(t, true)
	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`driver: http
identities:
  - name: premium
    cookies:
      - {name: tier, value: premium}
report:
  json: %s
metrics:
  textfile: %s
`, filepath.Join(dir, "report.json"), filepath.Join(dir, "sitecrawl.prom")))

	out, err := execute(t, "run", "-c", cfgPath, srv.URL)
	require.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "✗ premium")
	assert.Contains(t, out, "FAIL: ")

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var rep struct {
		Pass     bool `json:"pass"`
		Sessions []struct {
			Identity string `json:"identity"`
			Verdict  struct {
				Pass         bool `json:"pass"`
				ServerErrors []struct {
					Status int    `json:"status"`
					URL    string `json:"url"`
				} `json:"server_errors"`
			} `json:"verdict"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.False(t, rep.Pass)
	require.Len(t, rep.Sessions, 1)
	assert.Equal(t, "premium", rep.Sessions[0].Identity)
	require.NotEmpty(t, rep.Sessions[0].Verdict.ServerErrors)
	assert.Equal(t, 503, rep.Sessions[0].Verdict.ServerErrors[0].Status)
	assert.Equal(t, srv.URL+"/api/stats.js", rep.Sessions[0].Verdict.ServerErrors[0].URL)

	prom, err := os.ReadFile(filepath.Join(dir, "sitecrawl.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `sitecrawl_session_pass{identity="premium"} 0`)
}

func TestRoutesSorted(t *testing.T) {
	srv := newApp(t, false)
	cfgPath := writeConfig(t, "driver: http\n")

	out, err := execute(t, "routes", "--config", cfgPath, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "/\n/about\n/stats\n", out)

	out, err = execute(t, "routes", "--config", cfgPath, "--exclude", "/stats", "--json", srv.URL)
	require.NoError(t, err)
	var routes []string
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	assert.Equal(t, []string{"/", "/about"}, routes)
}

func TestUnknownIdentity(t *testing.T) {
	srv := newApp(t, false)
	cfgPath := writeConfig(t, "driver: http\n")

	_, err := execute(t, "routes", "--config", cfgPath, "--identity", "admin", srv.URL)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errRunFailed)
	assert.Contains(t, err.Error(), `unknown identity "admin"`)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "http://localhost:1")
	assert.ErrorIs(t, err, config.ErrConfigNotFound)
}

func TestLoadConfigFlags(t *testing.T) {
	cfgPath := writeConfig(t, `base_url: http://app.test
driver: http
seeds: [/admin]
timeouts:
  load: 10s
`)
	cmd := NewRunCmd()
	cmd.Flags().String("config", "", "")
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", cfgPath,
		"--seed", "/hidden",
		"--exclude", "/logout",
		"--max-routes", "5",
		"--action-timeout", "2s",
	}))

	cfg, err := loadConfig(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://app.test", cfg.BaseURL)
	assert.Equal(t, []string{"/admin", "/hidden"}, cfg.Seeds)
	assert.Equal(t, []string{"/logout"}, cfg.Exclude)
	assert.Equal(t, 5, cfg.MaxRoutes)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Load)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Action)
	assert.Equal(t, config.DriverHTTP, cfg.Driver)

	cfg, err = loadConfig(cmd, []string{"http://other.test"})
	require.NoError(t, err)
	assert.Equal(t, "http://other.test", cfg.BaseURL)

	bad := NewRunCmd()
	bad.Flags().String("config", "", "")
	require.NoError(t, bad.ParseFlags([]string{"--config", cfgPath, "--driver", "lynx"}))
	_, err = loadConfig(bad, nil)
	assert.ErrorIs(t, err, config.ErrUnknownDriver)
}

func TestStep(t *testing.T) {
	var b strings.Builder
	done := step(&b, "Writing %s", "report.json")
	done("done")
	assert.Equal(t, "→ Writing report.json... done\n", b.String())
}
