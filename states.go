package drission

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"
)

// ElementStates answers questions about an element's current state.
type ElementStates struct {
	e *Element
}

func (s *ElementStates) read(ctx context.Context) (gjson.Result, error) {
	if s.e.IsNone() {
		return gjson.Result{}, s.e.notFound()
	}
	return s.e.callValue(ctx, statesJS)
}

func (s *ElementStates) flag(ctx context.Context, name string) (bool, error) {
	res, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	return res.Get(name).Bool(), nil
}

// IsAlive reports whether the element is attached to a document.
func (s *ElementStates) IsAlive(ctx context.Context) bool {
	return s.e.IsAlive(ctx)
}

// IsDisplayed reports whether the element has a box and is not hidden by
// display or visibility.
func (s *ElementStates) IsDisplayed(ctx context.Context) (bool, error) {
	return s.flag(ctx, "displayed")
}

// IsEnabled reports whether the element is not disabled.
func (s *ElementStates) IsEnabled(ctx context.Context) (bool, error) {
	return s.flag(ctx, "enabled")
}

// IsSelected reports whether an option is selected.
func (s *ElementStates) IsSelected(ctx context.Context) (bool, error) {
	return s.flag(ctx, "selected")
}

// IsChecked reports whether a checkbox or radio button is checked.
func (s *ElementStates) IsChecked(ctx context.Context) (bool, error) {
	return s.flag(ctx, "checked")
}

// IsInViewport reports whether part of the element is visible in the
// viewport.
func (s *ElementStates) IsInViewport(ctx context.Context) (bool, error) {
	return s.flag(ctx, "inViewport")
}

// HasRect reports whether the element has a layout box.
func (s *ElementStates) HasRect(ctx context.Context) (bool, error) {
	_, err := s.e.Rect().box(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoRect):
		return false, nil
	}
	return false, err
}

// IsCovered reports whether another element sits on the click point.
func (s *ElementStates) IsCovered(ctx context.Context) (bool, error) {
	b, err := s.e.Rect().box(ctx)
	if err != nil {
		return false, err
	}
	hit, err := s.e.hitTest(ctx, b.clickPoint())
	return !hit, err
}

// IsClickable reports whether the element is displayed, enabled and not
// covered.
func (s *ElementStates) IsClickable(ctx context.Context) (bool, error) {
	res, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	if !res.Get("displayed").Bool() || !res.Get("enabled").Bool() {
		return false, nil
	}
	covered, err := s.IsCovered(ctx)
	return !covered, err
}
