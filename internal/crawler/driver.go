package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStaleRef means a Ref no longer resolves to an element.
	ErrStaleRef = errors.New("element no longer attached")
	// ErrNotVisible means an element did not become visible in time.
	ErrNotVisible = errors.New("element not visible")
	// ErrNotFillable means a fill was attempted on a control that takes no text.
	ErrNotFillable = errors.New("element does not accept text")
	// ErrNoCloseControl means an overlay was found without a way to dismiss it.
	ErrNoCloseControl = errors.New("overlay has no close control")
)

// Ref addresses the Index-th element (document order) matching Selector,
// searched inside the element addressed by Scope, or the whole document when
// Scope is nil. Refs are re-resolved on every use, so they survive a reload of
// the same route as long as the markup is stable.
type Ref struct {
	Selector string `json:"selector"`
	Index    int    `json:"index"`
	Scope    *Ref   `json:"scope,omitempty"`
}

func (r Ref) String() string {
	s := fmt.Sprintf("%s[%d]", r.Selector, r.Index)
	if r.Scope != nil {
		return r.Scope.String() + " >> " + s
	}
	return s
}

// Node describes one element returned by Page.Query.
type Node struct {
	Ref     Ref
	Tag     string // lower-case
	Attrs   map[string]string
	Text    string
	Visible bool
	Options int // number of <option> children, selects only
}

// Attr returns the named attribute.
func (n Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// Observer receives anomalies from a page. Callbacks may arrive on any
// goroutine.
type Observer interface {
	ConsoleError(message string)
	Response(status int, url string)
}

// Page is one isolated browsing context with a single tab. Every method that
// blocks takes a context carrying its deadline.
type Page interface {
	// Navigate loads rawURL and waits for it to settle. HTTP error statuses
	// are not navigation errors; they reach observers instead.
	Navigate(ctx context.Context, rawURL string) error
	URL(ctx context.Context) (string, error)
	// Hrefs returns the absolute href of every anchor in the DOM.
	Hrefs(ctx context.Context) ([]string, error)
	// Query returns matches of selector in document order, inside scope when
	// it is non-nil.
	Query(ctx context.Context, selector string, scope *Ref) ([]Node, error)
	WaitVisible(ctx context.Context, ref Ref) error
	Fill(ctx context.Context, ref Ref, text string) error
	Check(ctx context.Context, ref Ref) error
	SelectIndex(ctx context.Context, ref Ref, index int) error
	Click(ctx context.Context, ref Ref) error
	// Observe registers obs until the returned stop func is called.
	Observe(obs Observer) (stop func())
	Close() error
}

// Driver opens pages. Each Open returns a context isolated from every other
// (cookies, storage) with the identity already applied.
type Driver interface {
	Open(ctx context.Context, id Identity) (Page, error)
}

// Selectors used by the classifier and overlay recovery. Drivers that emulate
// overlay dismissal share them.
const (
	ControlSelector = `button, a[href], input[type="text"], input[type="email"], input[type="password"], ` +
		`input:not([type]), input[type="checkbox"], input[type="radio"], textarea, select, [role="button"]`

	OverlaySelector = `[role="dialog"], [role="alertdialog"], dialog[open], [aria-modal="true"], .modal.show, [data-modal]`

	CloseControlSelector = `[aria-label="Close"], [aria-label="close"], [aria-label="Dismiss"], ` +
		`[data-dismiss], [data-bs-dismiss], [data-close], .close, .btn-close`

	DefaultSkipAttribute   = "data-crawl-skip"
	DefaultCustomAttribute = "data-crawl-action"
)

// controlSelector extends the fixed taxonomy with the custom-widget marker.
func controlSelector(customAttr string) string {
	if customAttr == "" {
		return ControlSelector
	}
	return ControlSelector + ", [" + strings.TrimSpace(customAttr) + "]"
}
