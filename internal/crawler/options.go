package crawler

import (
	"log/slog"
	"net/url"
	"time"
)

// DefaultTextLiteral is typed into every text control.
const DefaultTextLiteral = "crawler-test"

// Options configures a crawl session. The zero value of every field except
// BaseURL has a usable default.
type Options struct {
	BaseURL *url.URL
	Start   RoutePath
	Seeds   []RoutePath
	// Exclude holds path.Match patterns for discovered routes that must not be
	// queued. Seeds are never excluded.
	Exclude   []string
	MaxRoutes int // 0 = unlimited

	TextLiteral     string
	SkipAttribute   string
	CustomAttribute string

	LoadTimeout   time.Duration
	ActionTimeout time.Duration
	// HiddenWait bounds the visibility wait for controls that were hidden
	// when the route was classified.
	HiddenWait time.Duration
	// SettleDelay is waited after each click-class actuation so late
	// navigations and overlays show up before the URL is compared.
	SettleDelay time.Duration

	// Parallel bounds how many identity sessions run at once.
	Parallel int

	Logger    *slog.Logger
	Listeners []Listener
}

// DefaultOptions returns options for crawling base from "/".
func DefaultOptions(base *url.URL) Options {
	o := Options{BaseURL: base, SettleDelay: 250 * time.Millisecond, Parallel: 1}
	o.applyDefaults()
	return o
}

func (o *Options) applyDefaults() {
	if o.BaseURL == nil {
		o.BaseURL = &url.URL{Scheme: "http", Host: "localhost"}
	}
	if o.Start == "" {
		o.Start = "/"
	}
	if o.TextLiteral == "" {
		o.TextLiteral = DefaultTextLiteral
	}
	if o.SkipAttribute == "" {
		o.SkipAttribute = DefaultSkipAttribute
	}
	if o.CustomAttribute == "" {
		o.CustomAttribute = DefaultCustomAttribute
	}
	if o.LoadTimeout == 0 {
		o.LoadTimeout = 30 * time.Second
	}
	if o.ActionTimeout == 0 {
		o.ActionTimeout = 5 * time.Second
	}
	if o.HiddenWait == 0 {
		o.HiddenWait = time.Second
	}
	if o.HiddenWait > o.ActionTimeout {
		o.HiddenWait = o.ActionTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}
