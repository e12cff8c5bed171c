package browser

import (
	"image"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

func TestQuadBounds(t *testing.T) {
	q := proto.DOMQuad{10, 20, 110.4, 20, 110.4, 60.2, 10, 60.2}
	assert.Equal(t, image.Rect(10, 20, 111, 61), quadBounds(q))
	assert.Equal(t, image.Rectangle{}, quadBounds(proto.DOMQuad{1, 2}))
}

func TestCookieParams(t *testing.T) {
	base, err := url.Parse("https://app.test:8443/dashboard")
	require.NoError(t, err)
	params := cookieParams(base, []crawler.Cookie{
		{Name: "session", Value: "abc"},
		{Name: "tier", Value: "premium", Path: "/app"},
	})
	require.Len(t, params, 2)
	assert.Equal(t, "https://app.test:8443", params[0].URL)
	assert.Equal(t, "/", params[0].Path)
	assert.Equal(t, "/app", params[1].Path)
}

func TestStorageScript(t *testing.T) {
	base, _ := url.Parse("http://localhost:3000")
	js, err := storageScript(base, map[string]string{"plan": `pro"x`})
	require.NoError(t, err)
	assert.Contains(t, js, `location.origin !== "http://localhost:3000"`)
	assert.Contains(t, js, `"plan":"pro\"x"`)
}

func TestHeaderPairs(t *testing.T) {
	pairs := headerPairs(map[string]string{"X-User": "u1", "X-Tier": "premium"})
	require.Len(t, pairs, 4)
	var joined []string
	for i := 0; i < len(pairs); i += 2 {
		joined = append(joined, pairs[i]+"="+pairs[i+1])
	}
	sort.Strings(joined)
	assert.Equal(t, []string{"X-Tier=premium", "X-User=u1"}, joined)
}

func TestConsoleText(t *testing.T) {
	args := []*proto.RuntimeRemoteObject{
		{Type: proto.RuntimeRemoteObjectTypeString, Value: gson.New("failed to fetch")},
		{Type: proto.RuntimeRemoteObjectTypeObject, Description: "Error: boom"},
		nil,
	}
	assert.Equal(t, "failed to fetch Error: boom", consoleText(args))

	assert.Equal(t, "uncaught exception", exceptionText(nil))
	assert.Equal(t, "Uncaught", exceptionText(&proto.RuntimeExceptionDetails{Text: "Uncaught"}))
	assert.Equal(t, "TypeError: x", exceptionText(&proto.RuntimeExceptionDetails{
		Text:      "Uncaught",
		Exception: &proto.RuntimeRemoteObject{Description: "TypeError: x"},
	}))
}

func TestScriptsAreFunctions(t *testing.T) {
	for name, js := range map[string]string{
		"resolve": resolveElementJS, "query": queryJS, "hrefs": hrefsJS,
		"select": selectIndexJS, "controls": controlsVisibleJS, "spa": detectSPAJS,
	} {
		assert.True(t, strings.HasPrefix(js, "("), name)
		assert.Contains(t, js, "=>", name)
	}
}
