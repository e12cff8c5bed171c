//go:build integration

package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

const appHTML = `<!doctype html>
<html><body>
<a id="pricing" href="/pricing">Pricing</a>
<button id="promo" onclick="document.getElementById('offer').hidden = false">Offer</button>
<div role="dialog" id="offer" hidden>
	<p>Half price</p>
	<button aria-label="Close" onclick="document.getElementById('offer').hidden = true">x</button>
</div>
<input id="email" type="email">
<input id="agree" type="checkbox">
<select id="tier"><option>Pick</option><option>Pro</option></select>
<button id="broken" onclick="fetch('/api/stats'); console.error('stats failed')">Stats</button>
<button id="off" disabled>Off</button>
</body></html>`

func testServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, appHTML)
	})
	mux.HandleFunc("/pricing", func(w http.ResponseWriter, r *http.Request) {
		tier, _ := r.Cookie("tier")
		fmt.Fprintf(w, `<a href="/">Home</a><p>%v</p>`, tier)
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionInChrome(t *testing.T) {
	srv := testServer(t)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	m, err := Launch(ctx, Config{BaseURL: base, Logger: log})
	require.NoError(t, err)
	defer m.Close()

	opts := crawler.DefaultOptions(base)
	opts.Logger = log
	opts.Parallel = 2
	identities := []crawler.Identity{
		crawler.Anonymous(),
		{Name: crawler.IdentityPremium, Cookies: []crawler.Cookie{{Name: "tier", Value: "premium"}}},
	}
	results, err := crawler.RunIdentities(ctx, m, identities, opts)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, res := range results {
		assert.Equal(t, []crawler.RoutePath{"/", "/pricing"}, res.Routes, res.Identity)
		assert.False(t, res.Verdict.Pass, res.Identity)
		assert.Contains(t, res.Verdict.ServerErrors, crawler.NetworkFailure{Status: 503, URL: srv.URL + "/api/stats"})
		assert.Contains(t, res.ConsoleErrors, "stats failed")
		assert.Equal(t, 1, res.Actuations.OverlaysDismissed, res.Identity)
		assert.Zero(t, res.Actuations.OverlaysStuck, res.Identity)
	}
}

func TestPageBoxAndScreenshot(t *testing.T) {
	srv := testServer(t)
	base, _ := url.Parse(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m, err := Launch(ctx, Config{BaseURL: base, Stealth: true})
	require.NoError(t, err)
	defer m.Close()

	p, err := m.Open(ctx, crawler.Anonymous())
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Navigate(ctx, srv.URL+"/"))

	bp := p.(*page)
	box, err := bp.Box(ctx, crawler.Ref{Selector: "#pricing"})
	require.NoError(t, err)
	assert.False(t, box.Empty())

	png, err := bp.Screenshot(ctx)
	require.NoError(t, err)
	assert.Greater(t, len(png), 100)

	_, err = bp.Box(ctx, crawler.Ref{Selector: "#missing"})
	assert.ErrorIs(t, err, crawler.ErrStaleRef)
}
