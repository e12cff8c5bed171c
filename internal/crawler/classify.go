package crawler

import (
	"context"
	"fmt"
	"strings"
)

// Classify turns the nodes matched by the control selector into interactive
// elements, keeping DOM order. Disabled nodes and nodes carrying skipAttr are
// dropped.
func Classify(nodes []Node, skipAttr, customAttr string) []InteractiveElement {
	var out []InteractiveElement
	for _, n := range nodes {
		if _, skip := n.Attr(skipAttr); skip && skipAttr != "" {
			continue
		}
		if disabled(n) {
			continue
		}
		kind, ok := kindOf(n, customAttr)
		if !ok {
			continue
		}
		out = append(out, InteractiveElement{
			Ref:     n.Ref,
			Kind:    kind,
			Enabled: true,
			Visible: n.Visible,
			Label:   label(n),
			Options: n.Options,
		})
	}
	return out
}

// ClassifyPage queries page for controls and classifies them.
func ClassifyPage(ctx context.Context, page Page, skipAttr, customAttr string) ([]InteractiveElement, error) {
	nodes, err := page.Query(ctx, controlSelector(customAttr), nil)
	if err != nil {
		return nil, fmt.Errorf("query controls: %w", err)
	}
	return Classify(nodes, skipAttr, customAttr), nil
}

func disabled(n Node) bool {
	if _, ok := n.Attr("disabled"); ok {
		switch n.Tag {
		case "button", "input", "select", "textarea":
			return true
		}
	}
	v, _ := n.Attr("aria-disabled")
	return strings.EqualFold(v, "true")
}

// kindOf decides the kind once. Native controls keep their kind even when they
// also carry the custom marker.
func kindOf(n Node, customAttr string) (ElementKind, bool) {
	switch n.Tag {
	case "select":
		return KindSelect, true
	case "textarea":
		return KindTextarea, true
	case "input":
		t, _ := n.Attr("type")
		switch strings.ToLower(t) {
		case "checkbox", "radio":
			return KindCheckable, true
		case "", "text", "email", "password":
			return KindTextInput, true
		}
	case "a":
		if _, ok := n.Attr("href"); ok {
			return KindLink, true
		}
	case "button":
		return KindButton, true
	}
	if role, _ := n.Attr("role"); strings.EqualFold(role, "button") {
		return KindButton, true
	}
	if customAttr != "" {
		if _, ok := n.Attr(customAttr); ok {
			return KindCustom, true
		}
	}
	return 0, false
}

func label(n Node) string {
	for _, a := range []string{"aria-label", "title", "placeholder"} {
		if v := trimLabel(n.Attrs[a]); v != "" {
			return v
		}
	}
	if v := trimLabel(n.Text); v != "" {
		return v
	}
	if v := trimLabel(n.Attrs["name"]); v != "" {
		return v
	}
	return trimLabel(n.Attrs["id"])
}

func trimLabel(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 50 {
		return string(r[:50])
	}
	return s
}
