package browser

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

// idleWait bounds the network-idle wait after a load; pages with long polling
// or websockets never go idle.
const idleWait = 5 * time.Second

type page struct {
	rod *rod.Page
	inc *rod.Browser
	log *slog.Logger

	observers crawler.ObserverSet
	stop      context.CancelFunc
	done      chan struct{}
}

var _ crawler.Page = (*page)(nil)

func newPage(rp *rod.Page, inc *rod.Browser, log *slog.Logger) *page {
	ctx, cancel := context.WithCancel(context.Background())
	p := &page{rod: rp, inc: inc, log: log, stop: cancel, done: make(chan struct{})}

	wait := rp.Context(ctx).EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			if e.Type == proto.RuntimeConsoleAPICalledTypeError {
				p.observers.ConsoleError(consoleText(e.Args))
			}
		},
		func(e *proto.RuntimeExceptionThrown) {
			p.observers.ConsoleError(exceptionText(e.ExceptionDetails))
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response != nil {
				p.observers.Response(e.Response.Status, e.Response.URL)
			}
		},
	)
	go func() {
		defer close(p.done)
		wait()
	}()
	return p
}

// Navigate loads rawURL, waits for the load event and, bounded, for the
// network to go idle. Client-rendered apps also get time to hydrate.
func (p *page) Navigate(ctx context.Context, rawURL string) error {
	rp := p.rod.Context(ctx)
	if err := rp.Navigate(rawURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", rawURL, err)
	}
	if err := rp.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", rawURL, err)
	}
	rp.Timeout(idleWait).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	if p.isSPA(ctx) {
		p.log.Debug("browser: waiting for client render", "url", rawURL)
		p.waitForControls(ctx, idleWait)
	}
	return nil
}

func (p *page) isSPA(ctx context.Context) bool {
	res, err := p.rod.Context(ctx).Eval(detectSPAJS)
	return err == nil && res.Value.Bool()
}

// waitForControls polls until some control is rendered or timeout passes.
func (p *page) waitForControls(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		res, err := p.rod.Context(ctx).Eval(controlsVisibleJS)
		if err == nil && res.Value.Int() > 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (p *page) URL(ctx context.Context) (string, error) {
	info, err := p.rod.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (p *page) Hrefs(ctx context.Context) ([]string, error) {
	res, err := p.rod.Context(ctx).Eval(hrefsJS)
	if err != nil {
		return nil, fmt.Errorf("browser: hrefs: %w", err)
	}
	var out []string
	for _, v := range res.Value.Arr() {
		out = append(out, v.Str())
	}
	return out, nil
}

type jsNode struct {
	Tag     string            `json:"tag"`
	Attrs   map[string]string `json:"attrs"`
	Text    string            `json:"text"`
	Visible bool              `json:"visible"`
	Options int               `json:"options"`
}

func (p *page) Query(ctx context.Context, selector string, scope *crawler.Ref) ([]crawler.Node, error) {
	res, err := p.rod.Context(ctx).Evaluate(rod.Eval(queryJS, selector, scope))
	if err != nil {
		if scope != nil && strings.Contains(err.Error(), "no longer attached") {
			return nil, fmt.Errorf("%s: %w", scope, crawler.ErrStaleRef)
		}
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	var raw []jsNode
	if err := res.Value.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("browser: decode query result: %w", err)
	}
	nodes := make([]crawler.Node, len(raw))
	for i, n := range raw {
		nodes[i] = crawler.Node{
			Ref:     crawler.Ref{Selector: selector, Index: i, Scope: scope},
			Tag:     n.Tag,
			Attrs:   n.Attrs,
			Text:    n.Text,
			Visible: n.Visible,
			Options: n.Options,
		}
	}
	return nodes, nil
}

// element resolves ref to a live element handle.
func (p *page) element(ctx context.Context, ref crawler.Ref) (*rod.Element, error) {
	rp := p.rod.Context(ctx)
	obj, err := rp.Evaluate(rod.Eval(resolveElementJS, ref).ByObject())
	if err != nil {
		return nil, fmt.Errorf("browser: resolve %s: %w", ref, err)
	}
	if obj.ObjectID == "" {
		return nil, fmt.Errorf("%s: %w", ref, crawler.ErrStaleRef)
	}
	el, err := rp.ElementFromObject(obj)
	if err != nil {
		return nil, fmt.Errorf("browser: element %s: %w", ref, err)
	}
	return el, nil
}

func (p *page) WaitVisible(ctx context.Context, ref crawler.Ref) error {
	el, err := p.element(ctx, ref)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", ref, crawler.ErrNotVisible)
		}
		return fmt.Errorf("browser: wait visible %s: %w", ref, err)
	}
	return nil
}

func (p *page) Fill(ctx context.Context, ref crawler.Ref, text string) error {
	el, err := p.element(ctx, ref)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("browser: select text %s: %w", ref, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("browser: input %s: %w", ref, err)
	}
	return nil
}

// Check clicks the control only when it is not already checked.
func (p *page) Check(ctx context.Context, ref crawler.Ref) error {
	el, err := p.element(ctx, ref)
	if err != nil {
		return err
	}
	checked, err := el.Property("checked")
	if err != nil {
		return fmt.Errorf("browser: checked %s: %w", ref, err)
	}
	if checked.Bool() {
		return nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", ref, err)
	}
	return nil
}

func (p *page) SelectIndex(ctx context.Context, ref crawler.Ref, index int) error {
	el, err := p.element(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := el.Eval(selectIndexJS, index); err != nil {
		return fmt.Errorf("browser: select %s: %w", ref, err)
	}
	return nil
}

func (p *page) Click(ctx context.Context, ref crawler.Ref) error {
	el, err := p.element(ctx, ref)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("browser: scroll %s: %w", ref, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", ref, err)
	}
	return nil
}

func (p *page) Observe(obs crawler.Observer) func() {
	return p.observers.Add(obs)
}

// Close stops event capture, closes the tab and disposes the incognito
// context with everything the identity stored in it.
func (p *page) Close() error {
	p.stop()
	var errs []error
	if err := p.rod.Close(); err != nil {
		errs = append(errs, err)
	}
	<-p.done
	if err := p.inc.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Screenshot captures the viewport as PNG.
func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	img, err := p.rod.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return img, nil
}

// Box returns the viewport rectangle the element occupies.
func (p *page) Box(ctx context.Context, ref crawler.Ref) (image.Rectangle, error) {
	el, err := p.element(ctx, ref)
	if err != nil {
		return image.Rectangle{}, err
	}
	shape, err := el.Shape()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("browser: shape %s: %w", ref, err)
	}
	if len(shape.Quads) == 0 {
		return image.Rectangle{}, fmt.Errorf("browser: %s has no shape", ref)
	}
	return quadBounds(shape.Quads[0]), nil
}

// quadBounds is the bounding box of a CDP quad (four x,y pairs).
func quadBounds(q proto.DOMQuad) image.Rectangle {
	if len(q) < 8 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i < 8; i += 2 {
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	return image.Rect(int(minX), int(minY), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a == nil:
		case a.Description != "":
			parts = append(parts, a.Description)
		default:
			parts = append(parts, a.Value.Str())
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(d *proto.RuntimeExceptionDetails) string {
	if d == nil {
		return "uncaught exception"
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}
