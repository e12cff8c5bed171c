package crawler

import (
	"context"
	"net/url"
	"strings"
)

// DiscoverRoutes drains the frontier breadth-first starting from seeds and
// start, loading each route on page and queueing the same-origin links found
// there. It returns the visited routes sorted. A route that fails to load
// stays visited and is not retried. Only cancellation of ctx is returned as
// an error.
func (s *Session) DiscoverRoutes(ctx context.Context, page Page, start RoutePath, seeds []RoutePath) ([]RoutePath, error) {
	isSeed := make(map[RoutePath]bool, len(seeds)+1)
	for _, r := range seeds {
		isSeed[r] = true
		s.frontier.Push(r)
	}
	isSeed[start] = true
	s.frontier.Push(start)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, ok := s.frontier.Pop()
		if !ok {
			break
		}
		if s.visited.Has(r) {
			continue
		}
		if s.full() && !isSeed[r] {
			s.log.Debug("crawler: route limit reached, dropping", "route", r)
			continue
		}
		s.visited.Add(r)

		var hrefs []string
		err := tryStep(ctx, s.log, "route load", []any{"route", r, "phase", PhaseDiscover}, func(ctx context.Context) error {
			return withTimeout(ctx, s.opts.LoadTimeout, func(ctx context.Context) error {
				if err := page.Navigate(ctx, s.routeURL(r)); err != nil {
					return err
				}
				var err error
				hrefs, err = page.Hrefs(ctx)
				return err
			})
		})
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		s.emitRoute(RouteEvent{Phase: PhaseDiscover, Route: r, Err: err})
		if err != nil {
			s.fail(r, "load", err)
			continue
		}

		base := s.resolve(r)
		queued := 0
		for _, next := range ExtractRoutes(base, hrefs) {
			if excluded(next, s.opts.Exclude) {
				continue
			}
			if s.frontier.Push(next) {
				queued++
			}
		}
		s.log.Debug("crawler: route discovered", "route", r, "links", len(hrefs), "queued", queued)
	}
	return s.visited.Sorted(), nil
}

// reach records a same-origin route that an actuation navigated to. It
// reports whether the route was new and queued for crawling.
func (s *Session) reach(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || !sameOrigin(s.opts.BaseURL, u) {
		return false
	}
	p := u.EscapedPath()
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	r := RoutePath(p)
	if s.visited.Has(r) || excluded(r, s.opts.Exclude) || s.full() {
		return false
	}
	s.visited.Add(r)
	s.reached = append(s.reached, r)
	s.pending = append(s.pending, r)
	s.log.Info("crawler: route reached by actuation", "route", r)
	return true
}

func (s *Session) full() bool {
	return s.opts.MaxRoutes > 0 && s.visited.Len() >= s.opts.MaxRoutes
}

func (s *Session) resolve(r RoutePath) *url.URL {
	u, err := url.Parse(s.routeURL(r))
	if err != nil {
		return s.opts.BaseURL
	}
	return u
}

func (s *Session) routeURL(r RoutePath) string {
	return routeURL(s.opts.BaseURL, r)
}
