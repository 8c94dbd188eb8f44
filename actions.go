package drission

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"

	"github.com/chromedp/drission/kb"
)

// Action is a single step of an action chain.
type Action interface {
	Do(context.Context) error
}

// ActionFunc is a func that satisfies Action.
type ActionFunc func(context.Context) error

// Do runs f.
func (f ActionFunc) Do(ctx context.Context) error {
	return f(ctx)
}

// Tasks is a list of Actions that can be used as a single Action.
type Tasks []Action

// Do runs the tasks in order and stops at the first error.
func (t Tasks) Do(ctx context.Context) error {
	for _, a := range t {
		if err := a.Do(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Actions builds a chain of mouse and keyboard input on a page. Nothing is
// sent until Perform. The cursor position and the held modifiers carry
// from one step to the next, and across Perform calls.
//
//	err := tab.Actions().
//		MoveTo(ele, nil, 0).
//		Click(nil).
//		Type("hello").
//		KeyDown(kb.Control).Type("a").KeyUp(kb.Control).
//		Perform(ctx)
type Actions struct {
	p     *page
	tasks Tasks
	pos   Point
	mods  input.Modifier
}

func newActions(p *page) *Actions {
	return &Actions{p: p}
}

func (a *Actions) add(fn func(context.Context) error) *Actions {
	a.tasks = append(a.tasks, ActionFunc(fn))
	return a
}

// Perform runs the queued steps and clears the queue.
func (a *Actions) Perform(ctx context.Context) error {
	t := a.tasks
	a.tasks = nil
	return t.Do(ctx)
}

// point resolves a move target: an *Element (its click point), a Point or
// a *Point in viewport coordinates, plus an optional offset. An element
// with an offset is taken from its top left corner.
func (a *Actions) point(ctx context.Context, target interface{}, offset *Point) (Point, error) {
	switch v := target.(type) {
	case *Element:
		if v.IsNone() {
			return Point{}, v.notFound()
		}
		pt, err := v.viewportPoint(ctx, offset)
		if err != nil || v.p == a.p {
			return pt, err
		}
		// element of another frame: move into the chain's coordinates
		eo, err := v.p.origin(ctx)
		if err != nil {
			return Point{}, err
		}
		ao, err := a.p.origin(ctx)
		if err != nil {
			return Point{}, err
		}
		return Point{pt.X + eo.X - ao.X, pt.Y + eo.Y - ao.Y}, nil
	case Point:
		return v.add(offset), nil
	case *Point:
		if v == nil {
			return a.pos.add(offset), nil
		}
		return v.add(offset), nil
	case nil:
		return a.pos.add(offset), nil
	}
	return Point{}, fmt.Errorf("%w: move target %T", ErrInvalidArgument, target)
}

func (pt Point) add(o *Point) Point {
	if o == nil {
		return pt
	}
	return Point{pt.X + o.X, pt.Y + o.Y}
}

// MoveTo moves the cursor to target over duration.
func (a *Actions) MoveTo(target interface{}, offset *Point, duration time.Duration) *Actions {
	return a.add(func(ctx context.Context) error {
		to, err := a.point(ctx, target, offset)
		if err != nil {
			return err
		}
		return a.glide(ctx, to, duration)
	})
}

// Move moves the cursor by dx, dy over duration.
func (a *Actions) Move(dx, dy float64, duration time.Duration) *Actions {
	return a.add(func(ctx context.Context) error {
		return a.glide(ctx, Point{a.pos.X + dx, a.pos.Y + dy}, duration)
	})
}

// glide sends intermediate moves every dragStep.
func (a *Actions) glide(ctx context.Context, to Point, duration time.Duration) error {
	from := a.pos
	steps := int(duration / dragStep)
	for i := 1; i < steps; i++ {
		f := float64(i) / float64(steps)
		pt := Point{from.X + (to.X-from.X)*f, from.Y + (to.Y-from.Y)*f}
		if err := a.mouse(ctx, input.MouseMoved, pt, input.None, 0); err != nil {
			return err
		}
		if err := sleep(ctx, dragStep); err != nil {
			return err
		}
	}
	return a.mouse(ctx, input.MouseMoved, to, input.None, 0)
}

func (a *Actions) mouse(ctx context.Context, typ input.MouseType, pt Point, button input.MouseButton, count int) error {
	o, err := a.p.origin(ctx)
	if err != nil {
		return err
	}
	if err := a.p.mouseAbs(ctx, typ, Point{pt.X + o.X, pt.Y + o.Y}, button, count, a.mods); err != nil {
		return err
	}
	a.pos = pt
	return nil
}

func (a *Actions) click(target interface{}, button input.MouseButton, count int) *Actions {
	if target != nil {
		a.MoveTo(target, nil, 0)
	}
	return a.add(func(ctx context.Context) error {
		for i := 1; i <= count; i++ {
			if err := a.mouse(ctx, input.MousePressed, a.pos, button, i); err != nil {
				return err
			}
			if err := a.mouse(ctx, input.MouseReleased, a.pos, button, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// Click clicks the left button, first moving to target when not nil.
func (a *Actions) Click(target interface{}) *Actions {
	return a.click(target, input.Left, 1)
}

// DoubleClick double clicks the left button.
func (a *Actions) DoubleClick(target interface{}) *Actions {
	return a.click(target, input.Left, 2)
}

// RightClick clicks the right button.
func (a *Actions) RightClick(target interface{}) *Actions {
	return a.click(target, input.Right, 1)
}

// MiddleClick clicks the middle button.
func (a *Actions) MiddleClick(target interface{}) *Actions {
	return a.click(target, input.Middle, 1)
}

// Hold presses button at the cursor, first moving to target when not nil.
func (a *Actions) Hold(target interface{}, button input.MouseButton) *Actions {
	if target != nil {
		a.MoveTo(target, nil, 0)
	}
	return a.add(func(ctx context.Context) error {
		return a.mouse(ctx, input.MousePressed, a.pos, button, 1)
	})
}

// Release releases button at the cursor, first moving to target when not
// nil.
func (a *Actions) Release(target interface{}, button input.MouseButton) *Actions {
	if target != nil {
		a.MoveTo(target, nil, 0)
	}
	return a.add(func(ctx context.Context) error {
		return a.mouse(ctx, input.MouseReleased, a.pos, button, 1)
	})
}

// Scroll turns the wheel at the cursor.
func (a *Actions) Scroll(dx, dy float64) *Actions {
	return a.add(func(ctx context.Context) error {
		o, err := a.p.origin(ctx)
		if err != nil {
			return err
		}
		ectx, err := a.p.inputExecutor(ctx)
		if err != nil {
			return err
		}
		return wrapErr(input.DispatchMouseEvent(input.MouseWheel, a.pos.X+o.X, a.pos.Y+o.Y).
			WithDeltaX(dx).
			WithDeltaY(dy).
			WithModifiers(a.mods).
			Do(ectx))
	})
}

// KeyDown presses key, a character or a kb constant. Modifier keys stay
// held for later steps until KeyUp.
func (a *Actions) KeyDown(key string) *Actions {
	return a.key(key, true)
}

// KeyUp releases key.
func (a *Actions) KeyUp(key string) *Actions {
	return a.key(key, false)
}

func (a *Actions) key(key string, down bool) *Actions {
	return a.add(func(ctx context.Context) error {
		r := []rune(key)
		if len(r) != 1 {
			return fmt.Errorf("%w: key %q", ErrInvalidArgument, key)
		}
		ectx, err := a.p.inputExecutor(ctx)
		if err != nil {
			return err
		}
		ev := kb.Up(r[0])
		if down {
			ev = kb.Down(r[0])
		}
		if m, ok := kb.Modifier(r[0]); ok {
			if down {
				a.mods |= m
			} else {
				a.mods &^= m
			}
		}
		return wrapErr(ev.WithModifiers(a.mods).Do(ectx))
	})
}

// Type types text with the held modifiers. kb constants in text are sent
// as their keys.
func (a *Actions) Type(text string) *Actions {
	return a.add(func(ctx context.Context) error {
		return a.p.typeText(ctx, text, a.mods)
	})
}

// Wait pauses the chain.
func (a *Actions) Wait(d time.Duration) *Actions {
	return a.add(func(ctx context.Context) error {
		return sleep(ctx, d)
	})
}
