// Package htmldom is a static DOM model for drivers that do not run a real
// browser. It resolves crawler refs against parsed HTML, guesses visibility
// from markup and applies the state changes that actuation would cause.
package htmldom

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

// ErrNoOption means SelectIndex was asked for an option that does not exist.
var ErrNoOption = errors.New("htmldom: option index out of range")

// Document is one parsed page. It is not safe for concurrent use.
type Document struct {
	doc  *goquery.Document
	base *url.URL
}

// Parse reads an HTML document; base resolves relative links.
func Parse(r io.Reader, base *url.URL) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	if base == nil {
		base = &url.URL{}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := base.Parse(href); err == nil {
			base = u
		}
	}
	return &Document{doc: doc, base: base}, nil
}

// ParseString is Parse for in-memory markup.
func ParseString(s string, base *url.URL) (*Document, error) {
	return Parse(strings.NewReader(s), base)
}

// Base returns the URL relative references are resolved against.
func (d *Document) Base() *url.URL { return d.base }

// Selection exposes the underlying goquery document.
func (d *Document) Selection() *goquery.Selection { return d.doc.Selection }

// Title returns the trimmed <title> text.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// HTML renders the current state of the document.
func (d *Document) HTML() (string, error) {
	return d.doc.Html()
}

// Hrefs returns the absolute href of every anchor in document order.
func (d *Document) Hrefs() []string {
	var out []string
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if u := d.Resolve(href); u != "" {
			out = append(out, u)
		}
	})
	return out
}

// Resolve makes ref absolute against the document base, or returns "".
func (d *Document) Resolve(ref string) string {
	u, err := d.base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return u.String()
}

// Subresources returns the absolute URLs of scripts, stylesheets and images
// a browser would fetch while loading the page.
func (d *Document) Subresources() []string {
	var out []string
	add := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				if u := d.Resolve(v); u != "" {
					out = append(out, u)
				}
			}
		}
	}
	d.doc.Find("script[src]").Each(add("src"))
	d.doc.Find(`link[rel="stylesheet"][href]`).Each(add("href"))
	d.doc.Find("img[src]").Each(add("src"))
	return out
}

// Query returns the elements matching selector in document order, inside the
// element addressed by scope when it is non-nil.
func (d *Document) Query(selector string, scope *crawler.Ref) ([]crawler.Node, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldom: selector %q: %w", selector, err)
	}
	root := d.doc.Selection
	if scope != nil {
		if root, err = d.Find(*scope); err != nil {
			return nil, err
		}
	}
	matches := root.FindMatcher(m)
	nodes := make([]crawler.Node, 0, matches.Length())
	matches.Each(func(i int, s *goquery.Selection) {
		nodes = append(nodes, describe(s, crawler.Ref{Selector: selector, Index: i, Scope: scope}))
	})
	return nodes, nil
}

// Find resolves ref to exactly one element.
func (d *Document) Find(ref crawler.Ref) (*goquery.Selection, error) {
	root := d.doc.Selection
	if ref.Scope != nil {
		var err error
		if root, err = d.Find(*ref.Scope); err != nil {
			return nil, err
		}
	}
	m, err := cascadia.Compile(ref.Selector)
	if err != nil {
		return nil, fmt.Errorf("htmldom: selector %q: %w", ref.Selector, err)
	}
	matches := root.FindMatcher(m)
	if ref.Index < 0 || ref.Index >= matches.Length() {
		return nil, fmt.Errorf("%s: %w", ref, crawler.ErrStaleRef)
	}
	return matches.Eq(ref.Index), nil
}

func describe(s *goquery.Selection, ref crawler.Ref) crawler.Node {
	n := s.Get(0)
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	node := crawler.Node{
		Ref:     ref,
		Tag:     strings.ToLower(n.Data),
		Attrs:   attrs,
		Text:    strings.Join(strings.Fields(s.Text()), " "),
		Visible: Visible(s),
	}
	if node.Tag == "select" {
		node.Options = s.Find("option").Length()
	}
	if _, ok := attrs["disabled"]; !ok && inDisabledFieldset(n) {
		attrs["disabled"] = ""
	}
	return node
}

// inDisabledFieldset reports whether form control n is disabled by an
// ancestor <fieldset disabled>. Controls inside the fieldset's first legend
// stay enabled.
func inDisabledFieldset(n *html.Node) bool {
	switch n.Data {
	case "button", "input", "select", "textarea":
	default:
		return false
	}
	child := n
	for p := n.Parent; p != nil; child, p = p, p.Parent {
		if p.Type != html.ElementNode || p.Data != "fieldset" {
			continue
		}
		if _, ok := attr(p, "disabled"); !ok {
			continue
		}
		if child == firstLegend(p) {
			continue
		}
		return true
	}
	return false
}

func firstLegend(fieldset *html.Node) *html.Node {
	for c := fieldset.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "legend" {
			return c
		}
	}
	return nil
}

// Visible guesses whether a browser would render s. It only knows what the
// markup says: hidden attributes, inline display/visibility styles, closed
// dialogs, hidden inputs and Bootstrap-style modals without "show".
func Visible(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	n := s.Get(0)
	if n.Data == "input" {
		if t, _ := s.Attr("type"); strings.EqualFold(t, "hidden") {
			return false
		}
	}
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if hiddenNode(n) {
			return false
		}
	}
	return true
}

func hiddenNode(n *html.Node) bool {
	switch n.Data {
	case "head", "template", "script", "style", "noscript":
		return true
	case "dialog":
		if _, ok := attr(n, "open"); !ok {
			return true
		}
	}
	if _, ok := attr(n, "hidden"); ok {
		return true
	}
	if style, ok := attr(n, "style"); ok {
		st := strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(st, "display:none") || strings.Contains(st, "visibility:hidden") {
			return true
		}
	}
	if class, ok := attr(n, "class"); ok {
		fields := strings.Fields(class)
		if hasField(fields, "modal") && !hasField(fields, "show") {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasField(fields []string, f string) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}
