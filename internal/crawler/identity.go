package crawler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Built-in identity names.
const (
	IdentityAnonymous = "anonymous"
	IdentityStandard  = "standard"
	IdentityPremium   = "premium"
)

// Cookie is set for the target origin before the first load.
type Cookie struct {
	Name  string
	Value string
	Path  string
}

// Identity is the simulated user a session runs as. How the application
// recognises it is up to the caller; drivers only apply it.
type Identity struct {
	Name         string
	Cookies      []Cookie
	LocalStorage map[string]string
	Headers      map[string]string
}

// Anonymous is the identity with no credentials at all.
func Anonymous() Identity {
	return Identity{Name: IdentityAnonymous}
}

// RunIdentities runs one independent session per identity against the same
// driver. Sessions share nothing but the driver; up to opts.Parallel of them
// run at once. Results are returned in identity order. A session that returns
// an error (only cancellation does) stops the remaining ones.
func RunIdentities(ctx context.Context, d Driver, identities []Identity, opts Options) ([]*SessionResult, error) {
	if len(identities) == 0 {
		identities = []Identity{Anonymous()}
	}
	seen := make(map[string]bool, len(identities))
	for _, id := range identities {
		if seen[id.Name] {
			return nil, fmt.Errorf("crawler: duplicate identity %q", id.Name)
		}
		seen[id.Name] = true
	}

	results := make([]*SessionResult, len(identities))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	} else {
		g.SetLimit(1)
	}

	for i, id := range identities {
		g.Go(func() error {
			res, err := NewSession(d, id, opts).Run(ctx)
			if err != nil {
				return fmt.Errorf("crawler: identity %s: %w", id.Name, err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Passed reports whether every session passed.
func Passed(results []*SessionResult) bool {
	for _, r := range results {
		if r == nil || !r.Verdict.Pass {
			return false
		}
	}
	return true
}
