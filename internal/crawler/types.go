package crawler

import (
	"fmt"
	"time"
)

// RoutePath is a normalized same-origin path. It always begins with "/" and
// never carries a fragment or query.
type RoutePath string

// ElementKind is the closed set of interactive control kinds the crawler knows
// how to actuate.
type ElementKind int

const (
	KindButton ElementKind = iota
	KindLink
	KindTextInput
	KindCheckable // checkbox or radio
	KindTextarea
	KindSelect
	KindCustom
)

func (k ElementKind) String() string {
	switch k {
	case KindButton:
		return "button"
	case KindLink:
		return "link"
	case KindTextInput:
		return "text-input"
	case KindCheckable:
		return "checkbox-or-radio"
	case KindTextarea:
		return "textarea"
	case KindSelect:
		return "select"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText lets kinds appear by name in JSON reports.
func (k ElementKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Clicks reports whether the kind is actuated by a click, which is the only
// actuation that can navigate.
func (k ElementKind) Clicks() bool {
	switch k {
	case KindButton, KindLink, KindCustom:
		return true
	}
	return false
}

// InteractiveElement is one classified control on the currently loaded route.
// It is only meaningful until the route is left.
type InteractiveElement struct {
	Ref     Ref         `json:"ref"`
	Kind    ElementKind `json:"kind"`
	Enabled bool        `json:"enabled"`
	Visible bool        `json:"visible"`
	Label   string      `json:"label,omitempty"`
	Options int         `json:"options,omitempty"` // option count, select only
}

// ActuationResult is produced once per element interaction.
type ActuationResult struct {
	Element         InteractiveElement
	URLBefore       string
	URLAfter        string
	Navigated       bool
	OverlayDetected bool
	Err             error
}

// RouteFailure records a route-level step that failed and was skipped.
type RouteFailure struct {
	Route RoutePath `json:"route"`
	Step  string    `json:"step"`
	Error string    `json:"error"`
}

// ActuationStats summarises the interaction phase of a session.
type ActuationStats struct {
	Attempted         int `json:"attempted"`
	Failed            int `json:"failed"`
	Navigations       int `json:"navigations"`
	OverlaysDismissed int `json:"overlays_dismissed"`
	OverlaysStuck     int `json:"overlays_stuck"`
}

// SessionResult is everything one identity's crawl produced.
type SessionResult struct {
	SessionID       string           `json:"session_id"`
	Identity        string           `json:"identity"`
	Routes          []RoutePath      `json:"routes"`
	Reached         []RoutePath      `json:"reached,omitempty"` // found only through actuation
	RouteFailures   []RouteFailure   `json:"route_failures,omitempty"`
	Actuations      ActuationStats   `json:"actuations"`
	ConsoleErrors   []string         `json:"console_errors"`
	NetworkFailures []NetworkFailure `json:"network_failures"`
	Verdict         Verdict          `json:"verdict"`
	Duration        time.Duration    `json:"duration"`
}
