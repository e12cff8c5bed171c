package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Crawl phases reported in RouteEvent.
const (
	PhaseDiscover = "discover"
	PhaseCrawl    = "crawl"
)

// RouteEvent is emitted after each route load.
type RouteEvent struct {
	SessionID string
	Identity  string
	Phase     string
	Route     RoutePath
	Elements  int // classified controls, crawl phase only
	Err       error
}

// ActuationEvent is emitted after each element has been actuated and any
// overlay handled, before a navigation is reverted.
type ActuationEvent struct {
	SessionID    string
	Identity     string
	Route        RoutePath
	Result       ActuationResult
	NewAnomalies int // anomalies observed since the actuation began
	Page         Page
}

// Listener observes a session. Listeners are shared by concurrent sessions
// and must be safe for concurrent use. They may read the page in
// ActuationEvent (screenshots) but must not act on it.
type Listener interface {
	RouteDone(RouteEvent)
	Actuated(ActuationEvent)
	SessionDone(*SessionResult)
}

// Session is one identity's crawl. It owns its visited set, frontier and
// anomaly log; nothing is shared with other sessions.
type Session struct {
	id       string
	driver   Driver
	identity Identity
	opts     Options
	log      *slog.Logger
	actuator *Actuator

	visited   *VisitedSet
	frontier  *Frontier
	anomalies *AnomalyLog

	pending  []RoutePath
	reached  []RoutePath
	failures []RouteFailure
	stats    ActuationStats
	overlays OverlayRecovery
}

// NewSession prepares a session; nothing happens until Run.
func NewSession(d Driver, id Identity, opts Options) *Session {
	opts.applyDefaults()
	sid := uuid.NewString()
	visited := NewVisitedSet()
	return &Session{
		id:       sid,
		driver:   d,
		identity: id,
		opts:     opts,
		log:      opts.Logger.With("identity", id.Name, "session", sid),
		actuator: &Actuator{
			TextLiteral:   opts.TextLiteral,
			Timeout:       opts.ActionTimeout,
			HiddenTimeout: opts.HiddenWait,
			Settle:        opts.SettleDelay,
		},
		visited:   visited,
		frontier:  NewFrontier(visited),
		anomalies: &AnomalyLog{},
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Anomalies exposes the session's log.
func (s *Session) Anomalies() *AnomalyLog { return s.anomalies }

// Run opens a page for the identity, discovers routes, crawls each one and
// returns the result with its verdict. Per-route and per-element failures are
// recorded, never returned; the error is non-nil only when the page could not
// be opened or ctx was cancelled.
func (s *Session) Run(ctx context.Context) (*SessionResult, error) {
	start := time.Now()
	s.log.Info("crawler: session started", "base", s.opts.BaseURL.String())

	page, err := s.driver.Open(ctx, s.identity)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			s.log.Debug("crawler: page close failed", "error", err)
		}
	}()
	stop := page.Observe(s.anomalies)
	defer stop()

	routes, err := s.DiscoverRoutes(ctx, page, s.opts.Start, s.opts.Seeds)
	if err != nil {
		return nil, err
	}
	s.log.Info("crawler: discovery done", "routes", len(routes))

	s.pending = routes
	for i := 0; i < len(s.pending); i++ {
		if err := s.crawlRoute(ctx, page, s.pending[i]); err != nil {
			return nil, err
		}
	}

	res := s.result(time.Since(start))
	if res.Verdict.Pass {
		s.log.Info("crawler: session passed", "routes", len(res.Routes), "console_errors", len(res.ConsoleErrors), "network_failures", len(res.NetworkFailures))
	} else {
		s.log.Warn("crawler: session failed", "reason", res.Verdict.Reason)
	}
	for _, l := range s.opts.Listeners {
		l.SessionDone(res)
	}
	return res, nil
}

// Discover opens a page for the identity and runs route discovery only.
func (s *Session) Discover(ctx context.Context) ([]RoutePath, error) {
	page, err := s.driver.Open(ctx, s.identity)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			s.log.Debug("crawler: page close failed", "error", err)
		}
	}()
	stop := page.Observe(s.anomalies)
	defer stop()
	return s.DiscoverRoutes(ctx, page, s.opts.Start, s.opts.Seeds)
}

func (s *Session) crawlRoute(ctx context.Context, page Page, r RoutePath) error {
	attrs := []any{"route", r, "phase", PhaseCrawl}
	s.overlays.Reset()
	if err := s.load(ctx, page, r, attrs); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		s.fail(r, "load", err)
		s.emitRoute(RouteEvent{Phase: PhaseCrawl, Route: r, Err: err})
		return nil
	}

	var elements []InteractiveElement
	err := tryStep(ctx, s.log, "classification", attrs, func(ctx context.Context) error {
		return withTimeout(ctx, s.opts.ActionTimeout, func(ctx context.Context) error {
			var err error
			elements, err = ClassifyPage(ctx, page, s.opts.SkipAttribute, s.opts.CustomAttribute)
			return err
		})
	})
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if err != nil {
		s.fail(r, "classify", err)
	}
	s.emitRoute(RouteEvent{Phase: PhaseCrawl, Route: r, Elements: len(elements), Err: err})
	s.log.Debug("crawler: route classified", "route", r, "elements", len(elements))

	for _, el := range elements {
		if err := s.actuate(ctx, page, r, el); err != nil {
			return err
		}
	}
	return nil
}

// actuate runs one element through actuation, overlay recovery and, when the
// page navigated away, the revert to r.
func (s *Session) actuate(ctx context.Context, page Page, r RoutePath, el InteractiveElement) error {
	attrs := []any{"route", r, "kind", el.Kind.String(), "ref", el.Ref.String()}
	before := s.anomalies.Len()

	s.stats.Attempted++
	var res ActuationResult
	err := tryStep(ctx, s.log, "actuation", attrs, func(ctx context.Context) error {
		var err error
		res, err = s.actuator.Actuate(ctx, page, el)
		return err
	})
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if err != nil {
		s.stats.Failed++
	}

	var landed []string
	if res.Navigated {
		landed = append(landed, res.URLAfter)
	}

	beforeRecovery, _ := page.URL(ctx)
	var dismissed bool
	oerr := tryStep(ctx, s.log, "overlay recovery", attrs, func(ctx context.Context) error {
		return withTimeout(ctx, s.opts.ActionTimeout, func(ctx context.Context) error {
			var err error
			dismissed, err = s.overlays.Recover(ctx, page)
			return err
		})
	})
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	res.OverlayDetected = dismissed || errors.Is(oerr, ErrNoCloseControl)
	switch {
	case dismissed:
		s.stats.OverlaysDismissed++
	case res.OverlayDetected:
		s.stats.OverlaysStuck++
	}
	if dismissed && beforeRecovery != "" {
		// The close control may navigate too.
		if after, err := page.URL(ctx); err == nil && withoutFragment(after) != withoutFragment(beforeRecovery) {
			landed = append(landed, after)
			res.URLAfter, res.Navigated = after, true
		}
	}

	ev := ActuationEvent{Route: r, Result: res, NewAnomalies: s.anomalies.Len() - before, Page: page}
	s.emitActuation(ev)

	if len(landed) == 0 {
		return nil
	}
	s.stats.Navigations++
	for _, u := range landed {
		s.reach(u)
	}
	if err := s.load(ctx, page, r, append(attrs, "step", "revert")); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		s.fail(r, "revert", err)
	}
	return nil
}

func (s *Session) load(ctx context.Context, page Page, r RoutePath, attrs []any) error {
	return tryStep(ctx, s.log, "route load", attrs, func(ctx context.Context) error {
		return withTimeout(ctx, s.opts.LoadTimeout, func(ctx context.Context) error {
			return page.Navigate(ctx, s.routeURL(r))
		})
	})
}

func (s *Session) fail(r RoutePath, step string, err error) {
	s.failures = append(s.failures, RouteFailure{Route: r, Step: step, Error: err.Error()})
}

func (s *Session) emitRoute(ev RouteEvent) {
	ev.SessionID, ev.Identity = s.id, s.identity.Name
	for _, l := range s.opts.Listeners {
		l.RouteDone(ev)
	}
}

func (s *Session) emitActuation(ev ActuationEvent) {
	ev.SessionID, ev.Identity = s.id, s.identity.Name
	for _, l := range s.opts.Listeners {
		l.Actuated(ev)
	}
}

func (s *Session) result(d time.Duration) *SessionResult {
	reached := append([]RoutePath{}, s.reached...)
	sort.Slice(reached, func(i, j int) bool { return reached[i] < reached[j] })
	failures := s.anomalies.NetworkFailures()
	return &SessionResult{
		SessionID:       s.id,
		Identity:        s.identity.Name,
		Routes:          s.visited.Sorted(),
		Reached:         reached,
		RouteFailures:   s.failures,
		Actuations:      s.stats,
		ConsoleErrors:   s.anomalies.ConsoleErrors(),
		NetworkFailures: failures,
		Verdict:         Judge(failures),
		Duration:        d,
	}
}
