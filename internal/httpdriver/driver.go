// Package httpdriver is a crawler.Driver that speaks plain HTTP. It runs no
// JavaScript: anchors navigate, submit buttons submit their form, close
// controls remove their dialog and subresources are fetched so their
// statuses reach the anomaly log.
package httpdriver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/v0xg/sitecrawl/internal/crawler"
	"github.com/v0xg/sitecrawl/internal/htmldom"
)

// Config holds driver options.
type Config struct {
	BaseURL *url.URL
	// Transport is used for every request. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	UserAgent string
	// Subresources enables fetching same-origin scripts, stylesheets and
	// images after each page load.
	Subresources bool
	// MaxBody caps how much of a page is read.
	MaxBody int64
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	if c.UserAgent == "" {
		c.UserAgent = "sitecrawl/1.0"
	}
	if c.MaxBody == 0 {
		c.MaxBody = 10 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Driver opens isolated pages, each with its own cookie jar.
type Driver struct {
	cfg Config
}

// New creates a Driver.
func New(cfg Config) (*Driver, error) {
	if cfg.BaseURL == nil {
		return nil, fmt.Errorf("httpdriver: base URL required")
	}
	cfg.defaults()
	return &Driver{cfg: cfg}, nil
}

// Open implements crawler.Driver. Identity cookies are placed in a fresh jar
// for the base origin and identity headers are sent on every request.
// Local storage has no meaning without a browser and is ignored.
func (d *Driver) Open(ctx context.Context, id crawler.Identity) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("httpdriver: cookie jar: %w", err)
	}
	if len(id.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(id.Cookies))
		for _, c := range id.Cookies {
			path := c.Path
			if path == "" {
				path = "/"
			}
			cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: path})
		}
		jar.SetCookies(d.cfg.BaseURL, cookies)
	}
	if len(id.LocalStorage) > 0 {
		d.cfg.Logger.Debug("httpdriver: local storage ignored", "identity", id.Name)
	}
	return &page{
		cfg:     d.cfg,
		client:  &http.Client{Transport: d.cfg.Transport, Jar: jar},
		headers: id.Headers,
		fetched: make(map[string]bool),
	}, nil
}

type page struct {
	cfg     Config
	client  *http.Client
	headers map[string]string

	url string
	doc *htmldom.Document

	observers crawler.ObserverSet

	mu sync.Mutex
	// fetched remembers subresources already requested, like a browser cache.
	fetched map[string]bool
}

var _ crawler.Page = (*page)(nil)

func (p *page) Navigate(ctx context.Context, rawURL string) error {
	return p.load(ctx, http.MethodGet, rawURL, nil)
}

// load performs the request, follows redirects and parses the final
// response. Statuses go to observers; only transport failures are errors.
func (p *page) load(ctx context.Context, method, rawURL string, form url.Values) error {
	var body io.Reader
	target := rawURL
	if form != nil {
		if method == http.MethodPost {
			body = strings.NewReader(form.Encode())
		} else {
			u, err := url.Parse(rawURL)
			if err != nil {
				return fmt.Errorf("httpdriver: parse %q: %w", rawURL, err)
			}
			u.RawQuery = form.Encode()
			target = u.String()
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("httpdriver: request %q: %w", target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	p.decorate(req)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpdriver: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	final := resp.Request.URL.String()
	p.observers.Response(resp.StatusCode, final)
	p.cfg.Logger.Debug("httpdriver: loaded", "method", method, "url", final, "status", resp.StatusCode, "took", time.Since(start))

	doc, err := htmldom.Parse(io.LimitReader(resp.Body, p.cfg.MaxBody), resp.Request.URL)
	if err != nil {
		return err
	}
	p.url = final
	p.doc = doc

	if p.cfg.Subresources {
		p.fetchSubresources(ctx)
	}
	return nil
}

func (p *page) fetchSubresources(ctx context.Context) {
	for _, raw := range p.doc.Subresources() {
		u, err := url.Parse(raw)
		if err != nil || !sameOrigin(p.cfg.BaseURL, u) {
			continue
		}
		p.mu.Lock()
		seen := p.fetched[raw]
		p.fetched[raw] = true
		p.mu.Unlock()
		if seen {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			continue
		}
		p.decorate(req)
		resp, err := p.client.Do(req)
		if err != nil {
			p.observers.ConsoleError(fmt.Sprintf("Failed to load resource: %s: %v", raw, err))
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, p.cfg.MaxBody))
		resp.Body.Close()
		p.observers.Response(resp.StatusCode, resp.Request.URL.String())
		if resp.StatusCode >= 400 {
			p.observers.ConsoleError(fmt.Sprintf("Failed to load resource: the server responded with a status of %d (%s)", resp.StatusCode, raw))
		}
	}
}

func (p *page) decorate(req *http.Request) {
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

func (p *page) URL(ctx context.Context) (string, error) {
	return p.url, ctx.Err()
}

func (p *page) Hrefs(ctx context.Context) ([]string, error) {
	if err := p.ready(ctx); err != nil {
		return nil, err
	}
	return p.doc.Hrefs(), nil
}

func (p *page) Query(ctx context.Context, selector string, scope *crawler.Ref) ([]crawler.Node, error) {
	if err := p.ready(ctx); err != nil {
		return nil, err
	}
	return p.doc.Query(selector, scope)
}

// WaitVisible checks visibility once; without scripts nothing appears later.
func (p *page) WaitVisible(ctx context.Context, ref crawler.Ref) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	s, err := p.doc.Find(ref)
	if err != nil {
		return err
	}
	if !htmldom.Visible(s) {
		return fmt.Errorf("%s: %w", ref, crawler.ErrNotVisible)
	}
	return nil
}

func (p *page) Fill(ctx context.Context, ref crawler.Ref, text string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	return p.doc.Fill(ref, text)
}

func (p *page) Check(ctx context.Context, ref crawler.Ref) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	return p.doc.Check(ref)
}

func (p *page) SelectIndex(ctx context.Context, ref crawler.Ref, index int) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	return p.doc.SelectIndex(ref, index)
}

// Click emulates default activation: dismiss an overlay, follow a link or
// submit a form. Other elements do nothing without scripts.
func (p *page) Click(ctx context.Context, ref crawler.Ref) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	s, err := p.doc.Find(ref)
	if err != nil {
		return err
	}
	if htmldom.Dismiss(s) {
		return nil
	}
	if href, ok := s.Attr("href"); ok {
		href = strings.TrimSpace(href)
		switch {
		case href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:"):
			return nil
		case strings.HasPrefix(href, "#"):
			p.url = strings.SplitN(p.url, "#", 2)[0] + href
			return nil
		}
		target := p.doc.Resolve(href)
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil
		}
		return p.Navigate(ctx, target)
	}
	if sub, ok := p.doc.Submit(s); ok {
		action := sub.Action
		if action == "" {
			action = p.url
		}
		return p.load(ctx, sub.Method, action, sub.Values)
	}
	return nil
}

func (p *page) Observe(obs crawler.Observer) func() {
	return p.observers.Add(obs)
}

func (p *page) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *page) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.doc == nil {
		return fmt.Errorf("httpdriver: no page loaded")
	}
	return nil
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
