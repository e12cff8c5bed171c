package crawler

import (
	"context"
	"fmt"
	"time"
)

// Actuator performs the single action appropriate to an element's kind.
type Actuator struct {
	TextLiteral string
	// Timeout bounds the visibility wait plus the action itself.
	Timeout time.Duration
	// HiddenTimeout replaces Timeout for elements that were not visible when
	// classified; most of them stay hidden. Zero means Timeout.
	HiddenTimeout time.Duration
	// Settle is waited after a click before the URL is read again.
	Settle time.Duration
}

// Actuate waits for el to become visible, acts on it and reports whether the
// page navigated. The returned error is also stored in the result.
func (a *Actuator) Actuate(ctx context.Context, page Page, el InteractiveElement) (ActuationResult, error) {
	res := ActuationResult{Element: el}
	clicks := el.Kind.Clicks()
	if clicks {
		res.URLBefore, _ = page.URL(ctx)
	}

	timeout := a.Timeout
	if !el.Visible && a.HiddenTimeout > 0 && a.HiddenTimeout < timeout {
		timeout = a.HiddenTimeout
	}
	err := withTimeout(ctx, timeout, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, el.Ref); err != nil {
			return err
		}
		return a.perform(ctx, page, el)
	})
	res.Err = err

	if clicks {
		if serr := sleep(ctx, a.Settle); serr != nil && err == nil {
			res.Err = serr
			return res, serr
		}
		after, uerr := page.URL(ctx)
		if uerr == nil {
			res.URLAfter = after
			res.Navigated = res.URLBefore != "" && withoutFragment(res.URLBefore) != withoutFragment(after)
		}
	}
	return res, err
}

func (a *Actuator) perform(ctx context.Context, page Page, el InteractiveElement) error {
	switch el.Kind {
	case KindTextInput, KindTextarea:
		return page.Fill(ctx, el.Ref, a.TextLiteral)
	case KindCheckable:
		return page.Check(ctx, el.Ref)
	case KindSelect:
		// Index 0 is conventionally a placeholder.
		if el.Options > 1 {
			return page.SelectIndex(ctx, el.Ref, 1)
		}
		return nil
	case KindButton, KindLink, KindCustom:
		return page.Click(ctx, el.Ref)
	default:
		return fmt.Errorf("crawler: no action for kind %v", el.Kind)
	}
}
