package crawler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/sitecrawl/internal/crawler"
	"github.com/v0xg/sitecrawl/internal/crawler/crawlertest"
)

func tieredSite() *crawlertest.Site {
	site := crawlertest.NewSite("http://app.test")
	site.Handle("/", crawlertest.PageSpec{
		Render: func(id crawler.Identity) string {
			links := `<a href="/pricing">Pricing</a>`
			if id.Name == crawler.IdentityPremium {
				links += `<a href="/premium">Premium</a>`
			}
			return links
		},
	})
	site.HandleHTML("/pricing", `<button id="upgrade">Upgrade</button>`)
	site.Handle("/premium", crawlertest.PageSpec{
		HTML:          `<p>reports</p>`,
		ConsoleErrors: []string{"chart failed to render"},
		Responses:     []crawlertest.Response{{Status: 502, URL: "http://app.test/api/reports"}},
	})
	return site
}

func TestRunIdentitiesIsolatesSessions(t *testing.T) {
	site := tieredSite()
	identities := []crawler.Identity{
		crawler.Anonymous(),
		{Name: crawler.IdentityStandard, Cookies: []crawler.Cookie{{Name: "tier", Value: "standard"}}},
		{Name: crawler.IdentityPremium, Cookies: []crawler.Cookie{{Name: "tier", Value: "premium"}}},
	}
	opts := options(site)
	opts.Parallel = 3

	results, err := crawler.RunIdentities(context.Background(), site, identities, opts)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, id := range identities {
		assert.Equal(t, id.Name, results[i].Identity)
	}
	assert.Equal(t, []crawler.RoutePath{"/", "/pricing"}, results[0].Routes)
	assert.Equal(t, []crawler.RoutePath{"/", "/pricing"}, results[1].Routes)
	assert.Equal(t, []crawler.RoutePath{"/", "/premium", "/pricing"}, results[2].Routes)

	assert.True(t, results[0].Verdict.Pass)
	assert.True(t, results[1].Verdict.Pass)
	assert.Empty(t, results[1].ConsoleErrors)
	assert.False(t, results[2].Verdict.Pass)
	assert.Contains(t, results[2].ConsoleErrors, "chart failed to render")
	assert.False(t, crawler.Passed(results))

	assert.NotEqual(t, results[0].SessionID, results[1].SessionID)
	assert.ElementsMatch(t, []string{"anonymous", "standard", "premium"}, site.Opened())
	assert.Zero(t, site.OpenPages())

	// Every identity actuated its own controls.
	for _, id := range identities {
		assert.Contains(t, clicks(site.ActionsFor(id.Name, "")), "upgrade", id.Name)
	}
}

func TestRunIdentitiesDefaultsToAnonymous(t *testing.T) {
	site := tieredSite()
	results, err := crawler.RunIdentities(context.Background(), site, nil, options(site))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, crawler.IdentityAnonymous, results[0].Identity)
	assert.True(t, crawler.Passed(results))
}

func TestRunIdentitiesRejectsDuplicates(t *testing.T) {
	site := tieredSite()
	_, err := crawler.RunIdentities(context.Background(), site,
		[]crawler.Identity{{Name: "standard"}, {Name: "standard"}}, options(site))
	assert.ErrorContains(t, err, "duplicate identity")
	assert.Empty(t, site.Opened())
}

func TestRunIdentitiesStopsOnCancel(t *testing.T) {
	site := tieredSite()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := crawler.RunIdentities(ctx, site, []crawler.Identity{crawler.Anonymous()}, options(site))
	assert.ErrorIs(t, err, context.Canceled)
}
