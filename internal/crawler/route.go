package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// NormalizePath turns a path or same-origin URL into a RoutePath: leading "/",
// no fragment, no query.
func NormalizePath(raw string) (RoutePath, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("crawler: parse path %q: %w", raw, err)
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return RoutePath(p), nil
}

// ExtractRoutes keeps the hrefs that point at base's origin and returns their
// paths in first-seen order without duplicates. Relative hrefs are resolved
// against base; non-HTTP schemes are dropped.
func ExtractRoutes(base *url.URL, hrefs []string) []RoutePath {
	seen := make(map[RoutePath]bool, len(hrefs))
	var routes []RoutePath
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		u, err := base.Parse(href)
		if err != nil {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if !sameOrigin(base, u) {
			continue
		}
		p := u.EscapedPath()
		if p == "" {
			p = "/"
		}
		r := RoutePath(p)
		if seen[r] {
			continue
		}
		seen[r] = true
		routes = append(routes, r)
	}
	return routes
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// routeURL resolves a route against the target's base URL.
func routeURL(base *url.URL, r RoutePath) string {
	u := *base
	u.Path = ""
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	ref, err := url.Parse(string(r))
	if err != nil {
		return u.String() + string(r)
	}
	return u.ResolveReference(ref).String()
}

// withoutFragment strips the fragment so in-page anchors do not count as
// navigation.
func withoutFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// excluded reports whether r matches any of the glob patterns.
func excluded(r RoutePath, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, string(r)); ok {
			return true
		}
	}
	return false
}
