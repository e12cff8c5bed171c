package htmldom

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

var (
	overlayMatcher = cascadia.MustCompile(crawler.OverlaySelector)
	closeMatcher   = cascadia.MustCompile(crawler.CloseControlSelector)
)

// Fill sets the value of a text input or the content of a textarea.
func (d *Document) Fill(ref crawler.Ref, text string) error {
	s, err := d.Find(ref)
	if err != nil {
		return err
	}
	switch goquery.NodeName(s) {
	case "textarea":
		s.SetText(text)
		return nil
	case "input":
		t, _ := s.Attr("type")
		switch strings.ToLower(t) {
		case "", "text", "email", "password", "search", "tel", "url", "number":
			s.SetAttr("value", text)
			return nil
		}
	}
	if _, ok := s.Attr("contenteditable"); ok {
		s.SetText(text)
		return nil
	}
	return fmt.Errorf("%s: %w", ref, crawler.ErrNotFillable)
}

// Check marks a checkbox or radio checked. Other radios of the same group
// are unchecked.
func (d *Document) Check(ref crawler.Ref) error {
	s, err := d.Find(ref)
	if err != nil {
		return err
	}
	t, _ := s.Attr("type")
	if goquery.NodeName(s) != "input" || (t != "checkbox" && t != "radio") {
		return fmt.Errorf("htmldom: %s is not checkable", ref)
	}
	if t == "radio" {
		if name, ok := s.Attr("name"); ok {
			scope := s.Closest("form")
			if scope.Length() == 0 {
				scope = d.doc.Selection
			}
			scope.Find(`input[type="radio"]`).Each(func(_ int, r *goquery.Selection) {
				if n, _ := r.Attr("name"); n == name {
					r.RemoveAttr("checked")
				}
			})
		}
	}
	s.SetAttr("checked", "")
	return nil
}

// Checked reports whether ref is a checked input.
func (d *Document) Checked(ref crawler.Ref) (bool, error) {
	s, err := d.Find(ref)
	if err != nil {
		return false, err
	}
	_, ok := s.Attr("checked")
	return ok, nil
}

// Value returns the current value of a form control.
func (d *Document) Value(ref crawler.Ref) (string, error) {
	s, err := d.Find(ref)
	if err != nil {
		return "", err
	}
	return controlValue(s), nil
}

// SelectIndex makes the i-th option of a select the selected one.
func (d *Document) SelectIndex(ref crawler.Ref, i int) error {
	s, err := d.Find(ref)
	if err != nil {
		return err
	}
	opts := s.Find("option")
	if i < 0 || i >= opts.Length() {
		return fmt.Errorf("%s: %d: %w", ref, i, ErrNoOption)
	}
	opts.RemoveAttr("selected")
	opts.Eq(i).SetAttr("selected", "")
	return nil
}

// Remove detaches the addressed element.
func (d *Document) Remove(ref crawler.Ref) error {
	s, err := d.Find(ref)
	if err != nil {
		return err
	}
	s.Remove()
	return nil
}

// Dismiss closes the overlay that s belongs to when s is a close control or
// a submit control of a method="dialog" form. Open dialogs lose their open
// attribute; other overlays are removed. It reports whether anything closed.
func Dismiss(s *goquery.Selection) bool {
	overlay := s.ClosestMatcher(overlayMatcher)
	if overlay.Length() == 0 {
		return false
	}
	isClose := s.IsMatcher(closeMatcher)
	if !isClose {
		form := s.Closest("form")
		method, _ := form.Attr("method")
		isClose = form.Length() > 0 && strings.EqualFold(method, "dialog") && submits(s)
	}
	if !isClose {
		return false
	}
	if goquery.NodeName(overlay) == "dialog" {
		overlay.RemoveAttr("open")
	} else {
		overlay.Remove()
	}
	return true
}

// Submission is the request a submit control would send.
type Submission struct {
	Method string
	Action string
	Values url.Values
}

// Submit builds the submission for the form owning the control s. ok is false
// when s does not submit a form.
func (d *Document) Submit(s *goquery.Selection) (sub Submission, ok bool) {
	if !submits(s) {
		return Submission{}, false
	}
	form := s.Closest("form")
	if form.Length() == 0 {
		return Submission{}, false
	}
	method, _ := form.Attr("method")
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "DIALOG" {
		return Submission{}, false
	}
	if method != "POST" {
		method = "GET"
	}
	action, _ := form.Attr("action")
	values := FormValues(form)
	if name, ok := s.Attr("name"); ok && name != "" {
		values.Add(name, controlValue(s))
	}
	return Submission{Method: method, Action: d.Resolve(action), Values: values}, true
}

func submits(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "button":
		t, _ := s.Attr("type")
		t = strings.ToLower(t)
		return t == "" || t == "submit"
	case "input":
		t, _ := s.Attr("type")
		t = strings.ToLower(t)
		return t == "submit" || t == "image"
	}
	return false
}

// FormValues collects the successful controls of form.
func FormValues(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		if _, off := s.Attr("disabled"); off {
			return
		}
		name, _ := s.Attr("name")
		switch goquery.NodeName(s) {
		case "input":
			t, _ := s.Attr("type")
			switch strings.ToLower(t) {
			case "submit", "button", "reset", "image", "file":
				return
			case "checkbox", "radio":
				if _, on := s.Attr("checked"); !on {
					return
				}
			}
		}
		values.Add(name, controlValue(s))
	})
	return values
}

func controlValue(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "textarea":
		return s.Text()
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(opt.Text())
	case "input":
		t, _ := s.Attr("type")
		v, ok := s.Attr("value")
		if !ok && (t == "checkbox" || t == "radio") {
			return "on"
		}
		return v
	}
	v, _ := s.Attr("value")
	return v
}
