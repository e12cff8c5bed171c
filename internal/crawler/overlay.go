package crawler

import "context"

// RecoverFromOverlay looks for a visible dialog or modal and activates the
// first visible close control inside it. It returns true when an overlay was
// dismissed, false with a nil error when there was none, and ErrNoCloseControl
// when an overlay was found that offers no way out.
func RecoverFromOverlay(ctx context.Context, page Page) (bool, error) {
	var o OverlayRecovery
	return o.Recover(ctx, page)
}

// OverlayRecovery dismisses overlays on one loaded route. Overlays found
// without a close control are remembered and ignored afterwards, so each is
// reported once. Reset it when a different route is loaded.
type OverlayRecovery struct {
	stuck map[string]bool
}

// Reset forgets the stuck overlays.
func (o *OverlayRecovery) Reset() { o.stuck = nil }

// Recover works like RecoverFromOverlay but skips overlays already known to
// be stuck.
func (o *OverlayRecovery) Recover(ctx context.Context, page Page) (bool, error) {
	overlays, err := page.Query(ctx, OverlaySelector, nil)
	if err != nil {
		return false, err
	}
	var overlay Node
	found := false
	for _, n := range overlays {
		if n.Visible && !o.stuck[n.Ref.String()] {
			overlay, found = n, true
			break
		}
	}
	if !found {
		return false, nil
	}

	scope := overlay.Ref
	closers, err := page.Query(ctx, CloseControlSelector, &scope)
	if err != nil {
		return false, err
	}
	closer, ok := firstVisible(closers)
	if !ok {
		if o.stuck == nil {
			o.stuck = make(map[string]bool)
		}
		o.stuck[overlay.Ref.String()] = true
		return false, ErrNoCloseControl
	}
	if err := page.Click(ctx, closer.Ref); err != nil {
		return false, err
	}
	return true, nil
}

func firstVisible(nodes []Node) (Node, bool) {
	for _, n := range nodes {
		if n.Visible {
			return n, true
		}
	}
	return Node{}, false
}
