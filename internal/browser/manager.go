// Package browser drives headless Chrome through go-rod. Each identity gets
// its own incognito browser context, so cookies and storage never leak
// between sessions that share one Chrome process.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

// Config configures the Chrome process and the pages opened on it.
type Config struct {
	// BaseURL is the origin identity cookies and local storage apply to.
	BaseURL *url.URL

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin overrides the Chrome binary. Empty = launcher.LookPath.
	Bin string

	// Headful shows the browser window.
	Headful bool

	// Stealth applies go-rod/stealth evasions to every page.
	Stealth bool

	// IgnoreCertErrors accepts self-signed certificates on dev servers.
	IgnoreCertErrors bool

	Width  int
	Height int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Width == 0 {
		c.Width = 1280
	}
	if c.Height == 0 {
		c.Height = 800
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process and implements crawler.Driver.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

var _ crawler.Driver = (*Manager)(nil)

// Launch starts Chrome (or connects to a remote instance).
func Launch(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.BaseURL == nil {
		return nil, fmt.Errorf("browser: base URL required")
	}
	cfg.defaults()
	m := &Manager{cfg: cfg}
	if err := m.launch(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) launch(ctx context.Context) error {
	log := m.cfg.Logger

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		bin := m.cfg.Bin
		if bin == "" {
			bin, _ = launcher.LookPath()
		}
		l := launcher.New().Context(ctx).Headless(!m.cfg.Headful)
		if bin != "" {
			l = l.Bin(bin)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanup()
		return fmt.Errorf("browser: connect: %w", err)
	}
	if m.cfg.IgnoreCertErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			log.Warn("browser: ignore cert errors failed", "error", err)
		}
	}
	m.browser = b
	return nil
}

// Open implements crawler.Driver. It creates an incognito context, applies
// the identity's cookies, local storage and headers and returns a page that
// reports console errors and responses to its observers.
func (m *Manager) Open(ctx context.Context, id crawler.Identity) (crawler.Page, error) {
	m.mu.Lock()
	b, closed := m.browser, m.closed
	m.mu.Unlock()
	if closed || b == nil {
		return nil, fmt.Errorf("browser: manager is closed")
	}

	inc, err := b.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}
	inc = inc.Context(context.Background())

	var rp *rod.Page
	if m.cfg.Stealth {
		rp, err = stealth.Page(inc)
	} else {
		rp, err = inc.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		_ = inc.Close()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	p := newPage(rp, inc, m.cfg.Logger.With("identity", id.Name))
	if err := m.setup(rp, id); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (m *Manager) setup(rp *rod.Page, id crawler.Identity) error {
	if err := rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.Width,
		Height:            m.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("browser: viewport: %w", err)
	}

	if len(id.Cookies) > 0 {
		if err := rp.SetCookies(cookieParams(m.cfg.BaseURL, id.Cookies)); err != nil {
			return fmt.Errorf("browser: cookies for %s: %w", id.Name, err)
		}
	}
	if len(id.LocalStorage) > 0 {
		js, err := storageScript(m.cfg.BaseURL, id.LocalStorage)
		if err != nil {
			return err
		}
		if _, err := rp.EvalOnNewDocument(js); err != nil {
			return fmt.Errorf("browser: local storage for %s: %w", id.Name, err)
		}
	}
	if len(id.Headers) > 0 {
		if _, err := rp.SetExtraHeaders(headerPairs(id.Headers)); err != nil {
			return fmt.Errorf("browser: headers for %s: %w", id.Name, err)
		}
	}
	return nil
}

// Close shuts down Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close failed", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

func cookieParams(base *url.URL, cookies []crawler.Cookie) []*proto.NetworkCookieParam {
	origin := base.Scheme + "://" + base.Host
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, &proto.NetworkCookieParam{
			Name:  c.Name,
			Value: c.Value,
			URL:   origin,
			Path:  path,
		})
	}
	return out
}

// storageScript seeds localStorage before any page script runs, only on the
// target origin.
func storageScript(base *url.URL, items map[string]string) (string, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("browser: encode local storage: %w", err)
	}
	origin, _ := json.Marshal(base.Scheme + "://" + base.Host)
	return fmt.Sprintf(`(() => {
	if (location.origin !== %s) return;
	const items = %s;
	for (const [k, v] of Object.entries(items)) localStorage.setItem(k, v);
})()`, origin, data), nil
}

func headerPairs(h map[string]string) []string {
	out := make([]string, 0, len(h)*2)
	for k, v := range h {
		out = append(out, k, v)
	}
	return out
}
