package htmldom

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

func parse(t *testing.T, markup string) *Document {
	t.Helper()
	base, err := url.Parse("http://app.test/account/")
	require.NoError(t, err)
	d, err := ParseString(markup, base)
	require.NoError(t, err)
	return d
}

func TestHrefsResolvedAgainstBase(t *testing.T) {
	d := parse(t, `<a href="/pricing">p</a><a href="settings#x">s</a><a>none</a><a href="https://other.test/">o</a>`)
	assert.Equal(t, []string{
		"http://app.test/pricing",
		"http://app.test/account/settings#x",
		"https://other.test/",
	}, d.Hrefs())
}

func TestQueryDocumentOrderAndScope(t *testing.T) {
	d := parse(t, `
		<button id="a">A</button>
		<div role="dialog"><button id="b">B</button><a href="/x" id="c">C</a></div>
		<input id="d">`)

	nodes, err := d.Query(crawler.ControlSelector, nil)
	require.NoError(t, err)
	var ids []string
	for _, n := range nodes {
		ids = append(ids, n.Attrs["id"])
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)

	dialogs, err := d.Query(crawler.OverlaySelector, nil)
	require.NoError(t, err)
	require.Len(t, dialogs, 1)
	scope := dialogs[0].Ref
	inner, err := d.Query("button", &scope)
	require.NoError(t, err)
	require.Len(t, inner, 1)
	assert.Equal(t, "b", inner[0].Attrs["id"])

	s, err := d.Find(inner[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, "B", s.Text())
}

func TestDisabledFieldset(t *testing.T) {
	d := parse(t, `
		<fieldset disabled>
			<legend><input id="legend-box" type="checkbox"></legend>
			<input id="inside">
			<div><button id="nested">Go</button></div>
		</fieldset>
		<fieldset><input id="open"></fieldset>`)

	nodes, err := d.Query(crawler.ControlSelector, nil)
	require.NoError(t, err)
	disabled := map[string]bool{}
	for _, n := range nodes {
		_, disabled[n.Attrs["id"]] = n.Attr("disabled")
	}
	assert.Equal(t, map[string]bool{
		"legend-box": false,
		"inside":     true,
		"nested":     true,
		"open":       false,
	}, disabled)

	got := crawler.Classify(nodes, crawler.DefaultSkipAttribute, crawler.DefaultCustomAttribute)
	require.Len(t, got, 2)
	assert.Equal(t, crawler.KindCheckable, got[0].Kind)
	assert.Equal(t, crawler.KindTextInput, got[1].Kind)
}

func TestQueryInvalidSelector(t *testing.T) {
	d := parse(t, `<p>x</p>`)
	_, err := d.Query("p[", nil)
	assert.Error(t, err)
}

func TestFindStaleRef(t *testing.T) {
	d := parse(t, `<button>one</button>`)
	_, err := d.Find(crawler.Ref{Selector: "button", Index: 3})
	assert.ErrorIs(t, err, crawler.ErrStaleRef)
}

func TestVisible(t *testing.T) {
	d := parse(t, `
		<button id="shown">s</button>
		<button id="attr" hidden>h</button>
		<div style="display: none"><button id="styled">x</button></div>
		<dialog><button id="closed">x</button></dialog>
		<dialog open><button id="open">x</button></dialog>
		<div class="modal"><button id="modal">x</button></div>
		<div class="modal show"><button id="modalshow">x</button></div>
		<input type="hidden" id="hiddeninput">`)
	cases := map[string]bool{
		"shown": true, "attr": false, "styled": false, "closed": false,
		"open": true, "modal": false, "modalshow": true, "hiddeninput": false,
	}
	for id, want := range cases {
		assert.Equal(t, want, Visible(d.Selection().Find("#"+id)), id)
	}
}

func TestFillCheckSelect(t *testing.T) {
	d := parse(t, `
		<form>
			<input name="email" type="email">
			<input name="agree" type="checkbox" id="agree">
			<input name="plan" type="radio" value="a" checked id="a">
			<input name="plan" type="radio" value="b" id="b">
			<textarea name="note"></textarea>
			<select name="tier"><option value="">Pick</option><option value="pro">Pro</option></select>
		</form>`)

	require.NoError(t, d.Fill(crawler.Ref{Selector: "input[name=email]"}, "crawler-test"))
	require.NoError(t, d.Fill(crawler.Ref{Selector: "textarea"}, "crawler-test"))
	require.NoError(t, d.Check(crawler.Ref{Selector: "#agree"}))
	require.NoError(t, d.Check(crawler.Ref{Selector: "#b"}))
	require.NoError(t, d.SelectIndex(crawler.Ref{Selector: "select"}, 1))

	a, err := d.Checked(crawler.Ref{Selector: "#a"})
	require.NoError(t, err)
	assert.False(t, a, "radio group keeps one checked")

	// Checking twice keeps it checked.
	require.NoError(t, d.Check(crawler.Ref{Selector: "#agree"}))

	values := FormValues(d.Selection().Find("form"))
	assert.Equal(t, "crawler-test", values.Get("email"))
	assert.Equal(t, "crawler-test", values.Get("note"))
	assert.Equal(t, "on", values.Get("agree"))
	assert.Equal(t, "b", values.Get("plan"))
	assert.Equal(t, "pro", values.Get("tier"))

	err = d.Fill(crawler.Ref{Selector: "#agree"}, "x")
	assert.ErrorIs(t, err, crawler.ErrNotFillable)
	err = d.SelectIndex(crawler.Ref{Selector: "select"}, 5)
	assert.ErrorIs(t, err, ErrNoOption)
}

func TestSubmit(t *testing.T) {
	d := parse(t, `
		<form action="/signup" method="post">
			<input name="email" value="x@y.z">
			<button name="go" value="1" id="submit">Go</button>
			<button type="button" id="plain">No</button>
		</form>`)

	sub, ok := d.Submit(d.Selection().Find("#submit"))
	require.True(t, ok)
	assert.Equal(t, "POST", sub.Method)
	assert.Equal(t, "http://app.test/signup", sub.Action)
	assert.Equal(t, "x@y.z", sub.Values.Get("email"))
	assert.Equal(t, "1", sub.Values.Get("go"))

	_, ok = d.Submit(d.Selection().Find("#plain"))
	assert.False(t, ok)
}

func TestDismiss(t *testing.T) {
	d := parse(t, `
		<div role="dialog" id="promo"><button aria-label="Close" id="x">x</button><button id="other">o</button></div>
		<dialog open id="native"><form method="dialog"><button id="ok">OK</button></form></dialog>`)

	assert.False(t, Dismiss(d.Selection().Find("#other")))
	assert.True(t, Dismiss(d.Selection().Find("#x")))
	assert.Equal(t, 0, d.Selection().Find("#promo").Length())

	assert.True(t, Dismiss(d.Selection().Find("#ok")))
	_, open := d.Selection().Find("#native").Attr("open")
	assert.False(t, open)
}

func TestSubresources(t *testing.T) {
	d := parse(t, `<head><script src="/app.js"></script><link rel="stylesheet" href="site.css"></head><img src="/logo.png">`)
	assert.Equal(t, []string{
		"http://app.test/app.js",
		"http://app.test/account/site.css",
		"http://app.test/logo.png",
	}, d.Subresources())
}
