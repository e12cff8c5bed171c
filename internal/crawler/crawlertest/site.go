// Package crawlertest provides an in-memory crawler.Driver over static HTML
// pages with programmable click handlers, console errors and responses.
package crawlertest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/v0xg/sitecrawl/internal/crawler"
	"github.com/v0xg/sitecrawl/internal/htmldom"
)

// Response is an extra response a page load or handler reports.
type Response struct {
	Status int
	URL    string
}

// ClickFunc runs when the element with the registered id is clicked. It
// replaces the default click behaviour.
type ClickFunc func(ctx context.Context, p *Page, target *goquery.Selection) error

// PageSpec describes one route.
type PageSpec struct {
	HTML string
	// Render overrides HTML per identity.
	Render        func(id crawler.Identity) string
	Status        int // 0 means 200
	Err           error
	Responses     []Response
	ConsoleErrors []string
	OnClick       map[string]ClickFunc
}

// Action is one driver call recorded by the site.
type Action struct {
	Identity string
	Kind     string // navigate, fill, check, select, click
	Target   string // URL for navigate, element id or ref otherwise
	Value    string
}

// Site is a fake application. It is safe for concurrent sessions.
type Site struct {
	Base *url.URL

	mu      sync.Mutex
	pages   map[string]PageSpec
	actions []Action
	opened  []string
	open    int
}

// NewSite returns an empty site rooted at base, e.g. "http://app.test".
func NewSite(base string) *Site {
	u, err := url.Parse(base)
	if err != nil {
		panic(fmt.Sprintf("crawlertest: bad base %q: %v", base, err))
	}
	return &Site{Base: u, pages: make(map[string]PageSpec)}
}

// Handle registers spec for path.
func (s *Site) Handle(path string, spec PageSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = spec
}

// HandleHTML registers a plain 200 page.
func (s *Site) HandleHTML(path, html string) {
	s.Handle(path, PageSpec{HTML: html})
}

// Open implements crawler.Driver.
func (s *Site) Open(ctx context.Context, id crawler.Identity) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.opened = append(s.opened, id.Name)
	s.open++
	s.mu.Unlock()
	return &Page{site: s, identity: id}, nil
}

// Actions returns every recorded action.
func (s *Site) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action{}, s.actions...)
}

// ActionsFor filters Actions by identity and kind; empty kind matches all.
func (s *Site) ActionsFor(identity, kind string) []Action {
	var out []Action
	for _, a := range s.Actions() {
		if a.Identity == identity && (kind == "" || a.Kind == kind) {
			out = append(out, a)
		}
	}
	return out
}

// Opened returns the identity names pages were opened for.
func (s *Site) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.opened...)
}

// OpenPages returns how many pages are open and not yet closed.
func (s *Site) OpenPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Site) record(a Action) {
	s.mu.Lock()
	s.actions = append(s.actions, a)
	s.mu.Unlock()
}

func (s *Site) lookup(path string) (PageSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.pages[path]
	return spec, ok
}

// Page is one isolated tab on a Site.
type Page struct {
	site     *Site
	identity crawler.Identity
	url      string
	doc      *htmldom.Document
	handlers map[string]ClickFunc

	observers crawler.ObserverSet

	mu     sync.Mutex
	closed bool
}

var _ crawler.Page = (*Page)(nil)

// Navigate implements crawler.Page.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := p.site.Base.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("crawlertest: parse %q: %w", rawURL, err)
	}
	p.site.record(Action{Identity: p.identity.Name, Kind: "navigate", Target: u.String()})

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	spec, ok := p.site.lookup(path)
	if !ok {
		spec = PageSpec{Status: 404, HTML: "<html><body><h1>Not found</h1></body></html>"}
	}
	if spec.Err != nil {
		return spec.Err
	}
	status := spec.Status
	if status == 0 {
		status = 200
	}
	p.Emit(status, u.String())

	markup := spec.HTML
	if spec.Render != nil {
		markup = spec.Render(p.identity)
	}
	doc, err := htmldom.ParseString(markup, u)
	if err != nil {
		return err
	}
	p.url = u.String()
	p.doc = doc
	p.handlers = spec.OnClick
	for _, r := range spec.Responses {
		p.Emit(r.Status, r.URL)
	}
	for _, msg := range spec.ConsoleErrors {
		p.ConsoleError(msg)
	}
	return nil
}

// URL implements crawler.Page.
func (p *Page) URL(ctx context.Context) (string, error) {
	return p.url, ctx.Err()
}

// Hrefs implements crawler.Page.
func (p *Page) Hrefs(ctx context.Context) ([]string, error) {
	if err := p.ready(ctx); err != nil {
		return nil, err
	}
	return p.doc.Hrefs(), nil
}

// Query implements crawler.Page.
func (p *Page) Query(ctx context.Context, selector string, scope *crawler.Ref) ([]crawler.Node, error) {
	if err := p.ready(ctx); err != nil {
		return nil, err
	}
	return p.doc.Query(selector, scope)
}

// WaitVisible implements crawler.Page. Static pages never change on their
// own, so there is nothing to wait for.
func (p *Page) WaitVisible(ctx context.Context, ref crawler.Ref) error {
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

// Fill implements crawler.Page.
func (p *Page) Fill(ctx context.Context, ref crawler.Ref, text string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	p.site.record(Action{Identity: p.identity.Name, Kind: "fill", Target: p.target(ref), Value: text})
	return p.doc.Fill(ref, text)
}

// Check implements crawler.Page.
func (p *Page) Check(ctx context.Context, ref crawler.Ref) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	p.site.record(Action{Identity: p.identity.Name, Kind: "check", Target: p.target(ref)})
	return p.doc.Check(ref)
}

// SelectIndex implements crawler.Page.
func (p *Page) SelectIndex(ctx context.Context, ref crawler.Ref, index int) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	p.site.record(Action{Identity: p.identity.Name, Kind: "select", Target: p.target(ref), Value: fmt.Sprint(index)})
	return p.doc.SelectIndex(ref, index)
}

// Click implements crawler.Page. A registered handler wins; otherwise close
// controls dismiss their overlay and anchors navigate.
func (p *Page) Click(ctx context.Context, ref crawler.Ref) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	s, err := p.doc.Find(ref)
	if err != nil {
		return err
	}
	id := p.target(ref)
	p.site.record(Action{Identity: p.identity.Name, Kind: "click", Target: id})

	if h, ok := p.handlers[id]; ok {
		return h(ctx, p, s)
	}
	if htmldom.Dismiss(s) {
		return nil
	}
	if goquery.NodeName(s) == "a" {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "#") {
			p.url = strings.SplitN(p.url, "#", 2)[0] + href
			return nil
		}
		if target := p.doc.Resolve(href); target != "" {
			return p.Navigate(ctx, target)
		}
	}
	return nil
}

// Observe implements crawler.Page.
func (p *Page) Observe(obs crawler.Observer) func() {
	return p.observers.Add(obs)
}

// Close implements crawler.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.site.mu.Lock()
	p.site.open--
	p.site.mu.Unlock()
	return nil
}

// Doc returns the current document so handlers can mutate it.
func (p *Page) Doc() *htmldom.Document { return p.doc }

// Identity returns the identity the page was opened for.
func (p *Page) Identity() crawler.Identity { return p.identity }

// Emit reports a response to the observers.
func (p *Page) Emit(status int, rawURL string) {
	p.observers.Response(status, rawURL)
}

// ConsoleError reports a console error to the observers.
func (p *Page) ConsoleError(msg string) {
	p.observers.ConsoleError(msg)
}

// Observers returns how many observers are registered.
func (p *Page) Observers() int {
	return p.observers.Len()
}

func (p *Page) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.doc == nil {
		return fmt.Errorf("crawlertest: nothing loaded")
	}
	return nil
}

// target names the element by id when it has one, by ref otherwise.
func (p *Page) target(ref crawler.Ref) string {
	if s, err := p.doc.Find(ref); err == nil {
		if id, ok := s.Attr("id"); ok && id != "" {
			return id
		}
	}
	return ref.String()
}
