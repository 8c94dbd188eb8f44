package drission

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"gopkg.in/guregu/null.v3"

	"github.com/chromedp/drission/kb"
)

// ClickOption configures Element.Click.
type ClickOption func(*clickConfig)

type clickConfig struct {
	byJS     null.Bool
	timeout  time.Duration
	waitStop bool
}

// ByJS forces a script click when true, and forbids the script fallback
// for covered elements when false. Without it, covered elements are
// clicked by script.
func ByJS(v bool) ClickOption {
	return func(c *clickConfig) {
		c.byJS = null.BoolFrom(v)
	}
}

// ClickTimeout sets how long a click waits for the element to become
// clickable. The default is 1.5s.
func ClickTimeout(d time.Duration) ClickOption {
	return func(c *clickConfig) {
		c.timeout = d
	}
}

// WaitStop sets whether a click waits for the element to stop moving. The
// default is true.
func WaitStop(v bool) ClickOption {
	return func(c *clickConfig) {
		c.waitStop = v
	}
}

// Click left clicks the element with a dispatched mouse event, falling back
// to a script click when the element stays covered. It reports whether the
// click was delivered.
func (e *Element) Click(ctx context.Context, opts ...ClickOption) (bool, error) {
	if e.IsNone() {
		return false, e.notFound()
	}
	cfg := clickConfig{timeout: 1500 * time.Millisecond, waitStop: true}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.byJS.Valid && cfg.byJS.Bool {
		return e.jsClick(ctx)
	}

	pt, err := e.clickable(ctx, cfg)
	switch {
	case err == nil:
		if err := e.p.mouseClick(ctx, pt, input.Left, 1); err != nil {
			return false, err
		}
		return true, nil
	case errors.Is(err, ErrCanNotClick), errors.Is(err, ErrNoRect):
	default:
		return false, err
	}
	if !cfg.byJS.Valid {
		e.p.log.WithField("element", e.String()).Debug("covered, clicking by script")
		return e.jsClick(ctx)
	}
	if e.p.b.settings.RaiseWhenClickFailed() {
		return false, err
	}
	return false, nil
}

func (e *Element) jsClick(ctx context.Context) (bool, error) {
	res, err := e.callValue(ctx, clickJS)
	if err != nil {
		return false, err
	}
	return res.Bool(), nil
}

// clickable waits until the element has a box, stands still, is displayed,
// enabled and on top at its click point, and returns that point.
func (e *Element) clickable(ctx context.Context, cfg clickConfig) (Point, error) {
	var pt Point
	var last error
	r := e.Rect()
	err := Retry{Interval: 100 * time.Millisecond, Deadline: cfg.timeout}.Do(ctx, func(ctx context.Context) error {
		b, err := r.box(ctx)
		switch {
		case errors.Is(err, ErrNoRect):
			last = err
			return errRetry
		case err != nil:
			return stop(err)
		}
		if cfg.waitStop {
			if err := sleep(ctx, 100*time.Millisecond); err != nil {
				return stop(err)
			}
			b2, err := r.box(ctx)
			if err != nil || b2.x != b.x || b2.y != b.y || b2.width != b.width || b2.height != b.height {
				last = fmt.Errorf("%w: element is moving", ErrCanNotClick)
				return errRetry
			}
		}
		if !b.inViewport(b.clickPoint()) {
			if _, err := e.callValue(ctx, scrollIntoViewJS, true); err != nil {
				return stop(err)
			}
			if b, err = r.box(ctx); err != nil {
				last = err
				return errRetry
			}
		}
		st, err := e.States().read(ctx)
		if err != nil {
			return stop(err)
		}
		if !st.Get("displayed").Bool() || !st.Get("enabled").Bool() {
			last = fmt.Errorf("%w: element is hidden or disabled", ErrCanNotClick)
			return errRetry
		}
		pt = b.clickPoint()
		hit, err := e.hitTest(ctx, pt)
		if err != nil {
			return stop(err)
		}
		if !hit {
			last = fmt.Errorf("%w: element is covered", ErrCanNotClick)
			return errRetry
		}
		return nil
	})
	if errors.Is(err, ErrWaitTimeout) && last != nil {
		return pt, last
	}
	return pt, err
}

// hitTest reports whether the node at viewport point pt is the element or
// one of its descendants.
func (e *Element) hitTest(ctx context.Context, pt Point) (bool, error) {
	ectx, err := e.p.executor(ctx)
	if err != nil {
		return false, err
	}
	backend, _, _, err := dom.GetNodeForLocation(int64(pt.X), int64(pt.Y)).
		WithIncludeUserAgentShadowDOM(true).
		WithIgnorePointerEventsNone(true).
		Do(ectx)
	if err != nil {
		// nothing there, or the point is outside the document
		return false, nil
	}
	if backend == e.backendID {
		return true, nil
	}
	res, err := e.callValue(ctx, containsJS, newElement(e.p, backend, "", ""))
	if err != nil {
		if errors.Is(err, ErrElementLost) {
			return false, nil
		}
		return false, err
	}
	return res.Bool(), nil
}

// viewportPoint scrolls the element into view when needed and returns its
// click point, or the point offset from its top left corner.
func (e *Element) viewportPoint(ctx context.Context, offset *Point) (Point, error) {
	if e.IsNone() {
		return Point{}, e.notFound()
	}
	r := e.Rect()
	b, err := r.box(ctx)
	if err != nil {
		return Point{}, err
	}
	if !b.inViewport(b.clickPoint()) {
		if _, err := e.callValue(ctx, scrollIntoViewJS, true); err != nil {
			return Point{}, err
		}
		if b, err = r.box(ctx); err != nil {
			return Point{}, err
		}
	}
	if offset != nil {
		return Point{b.x + offset.X, b.y + offset.Y}, nil
	}
	return b.clickPoint(), nil
}

// RightClick right clicks the element.
func (e *Element) RightClick(ctx context.Context) error {
	return e.ClickAt(ctx, nil, input.Right)
}

// MiddleClick middle clicks the element.
func (e *Element) MiddleClick(ctx context.Context) error {
	return e.ClickAt(ctx, nil, input.Middle)
}

// ClickAt clicks button at offset from the top left corner of the element,
// or at its click point when offset is nil. Coverage is not checked.
func (e *Element) ClickAt(ctx context.Context, offset *Point, button input.MouseButton) error {
	pt, err := e.viewportPoint(ctx, offset)
	if err != nil {
		return err
	}
	return e.p.mouseClick(ctx, pt, button, 1)
}

// MultiClick left clicks the element times times in a row, as a double or
// triple click.
func (e *Element) MultiClick(ctx context.Context, times int) error {
	pt, err := e.viewportPoint(ctx, nil)
	if err != nil {
		return err
	}
	return e.p.mouseClick(ctx, pt, input.Left, times)
}

// Hover moves the mouse onto the element, at offset from its top left
// corner when offset is not nil.
func (e *Element) Hover(ctx context.Context, offset *Point) error {
	pt, err := e.viewportPoint(ctx, offset)
	if err != nil {
		return err
	}
	return e.p.mouse(ctx, input.MouseMoved, pt, input.None, 0)
}

// Drag presses the mouse on the element, moves it by dx, dy over duration
// and releases it.
func (e *Element) Drag(ctx context.Context, dx, dy float64, duration time.Duration) error {
	from, err := e.viewportPoint(ctx, nil)
	if err != nil {
		return err
	}
	return e.p.drag(ctx, from, Point{from.X + dx, from.Y + dy}, duration)
}

// DragTo drags the element onto target, an *Element or a viewport Point.
func (e *Element) DragTo(ctx context.Context, target interface{}, duration time.Duration) error {
	from, err := e.viewportPoint(ctx, nil)
	if err != nil {
		return err
	}
	var to Point
	switch t := target.(type) {
	case *Element:
		pt, err := t.viewportPoint(ctx, nil)
		if err != nil {
			return err
		}
		// move into the coordinate space of this element's document
		src, err := e.p.origin(ctx)
		if err != nil {
			return err
		}
		dst, err := t.p.origin(ctx)
		if err != nil {
			return err
		}
		to = Point{pt.X + dst.X - src.X, pt.Y + dst.Y - src.Y}
	case Point:
		to = t
	case *Point:
		to = *t
	default:
		return fmt.Errorf("%w: drag target %T", ErrInvalidArgument, target)
	}
	return e.p.drag(ctx, from, to, duration)
}

// Focus focuses the element.
func (e *Element) Focus(ctx context.Context) error {
	if e.IsNone() {
		return e.notFound()
	}
	ectx, err := e.p.executor(ctx)
	if err != nil {
		return err
	}
	if err := dom.Focus().WithBackendNodeID(e.backendID).Do(ectx); err != nil {
		_, err = e.callValue(ctx, "function(){this.focus()}")
		return err
	}
	return nil
}

// ScrollIntoView scrolls the element to the middle of the viewport, or
// just into view when center is false.
func (e *Element) ScrollIntoView(ctx context.Context, center bool) error {
	if e.IsNone() {
		return e.notFound()
	}
	_, err := e.callValue(ctx, scrollIntoViewJS, center)
	return err
}

// Input types text into the element. Special keys from package kb are sent
// as key events. With clear set the current content is removed first; with
// byJS the value is set by script and input and change events are fired.
// File inputs take newline separated paths.
func (e *Element) Input(ctx context.Context, text string, clear, byJS bool) error {
	if e.IsNone() {
		return e.notFound()
	}
	if e.isFileInput(ctx) {
		return e.SetFiles(ctx, strings.Split(text, "\n")...)
	}
	if byJS {
		if !clear {
			cur, err := e.Value(ctx)
			if err != nil {
				return err
			}
			text = cur + text
		}
		_, err := e.callValue(ctx, setValueJS, text)
		return err
	}
	if err := e.Focus(ctx); err != nil {
		return err
	}
	if clear {
		if err := e.selectAll(ctx); err != nil {
			return err
		}
		if err := e.p.keys(ctx, kb.Backspace, 0); err != nil {
			return err
		}
	}
	return e.p.typeText(ctx, text, 0)
}

// Clear removes the content of an input or editable element.
func (e *Element) Clear(ctx context.Context, byJS bool) error {
	if e.IsNone() {
		return e.notFound()
	}
	if byJS {
		_, err := e.callValue(ctx, setValueJS, "")
		return err
	}
	if err := e.Focus(ctx); err != nil {
		return err
	}
	if err := e.selectAll(ctx); err != nil {
		return err
	}
	return e.p.keys(ctx, kb.Backspace, 0)
}

func (e *Element) selectAll(ctx context.Context) error {
	_, err := e.callValue(ctx, `function() {
  if (typeof this.select === 'function') {
    this.select();
    return;
  }
  var r = document.createRange();
  r.selectNodeContents(this);
  var s = window.getSelection();
  s.removeAllRanges();
  s.addRange(r);
}`)
	return err
}

func (e *Element) isFileInput(ctx context.Context) bool {
	tag, err := e.Tag(ctx)
	if err != nil || tag != "input" {
		return false
	}
	typ, _, err := e.Attr(ctx, "type")
	return err == nil && strings.EqualFold(typ, "file")
}

// SetFiles sets the files of an <input type=file>. Relative paths are made
// absolute.
func (e *Element) SetFiles(ctx context.Context, files ...string) error {
	if e.IsNone() {
		return e.notFound()
	}
	abs, err := absPaths(files)
	if err != nil {
		return err
	}
	ectx, err := e.p.executor(ctx)
	if err != nil {
		return err
	}
	return wrapErr(dom.SetFileInputFiles(abs).WithBackendNodeID(e.backendID).Do(ectx))
}

func absPaths(files []string) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		a, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// SelectBy says how Select matches options.
type SelectBy string

// Option matching modes.
const (
	SelectByText  SelectBy = "text"
	SelectByValue SelectBy = "value"
	SelectByIndex SelectBy = "index"
)

// Select selects the options of a select list matching values, waiting up
// to the Base timeout for them to appear. Indexes are 1-based ints.
func (e *Element) Select(ctx context.Context, by SelectBy, values ...interface{}) (bool, error) {
	return e.selectOptions(ctx, string(by), values, true)
}

// Deselect clears the options matching values.
func (e *Element) Deselect(ctx context.Context, by SelectBy, values ...interface{}) (bool, error) {
	return e.selectOptions(ctx, string(by), values, false)
}

// SelectAll selects every option of a multiple select list.
func (e *Element) SelectAll(ctx context.Context) (bool, error) {
	return e.selectOptions(ctx, "all", nil, true)
}

// ClearSelection deselects every option.
func (e *Element) ClearSelection(ctx context.Context) (bool, error) {
	return e.selectOptions(ctx, "all", nil, false)
}

func (e *Element) selectOptions(ctx context.Context, by string, values []interface{}, on bool) (bool, error) {
	if e.IsNone() {
		return false, e.notFound()
	}
	if values == nil {
		values = []interface{}{}
	}
	return e.p.waitFor(ctx, 0, func(ctx context.Context) (bool, error) {
		res, err := e.callValue(ctx, selectJS, by, values, on)
		if err != nil {
			return false, err
		}
		if res.Int() < 0 {
			return false, fmt.Errorf("%w: %s is not a select list", ErrInvalidArgument, e)
		}
		return res.Int() > 0 || by == "all", nil
	})
}

// SelectedOptions returns the selected options of a select list.
func (e *Element) SelectedOptions(ctx context.Context) ([]*Element, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	obj, err := e.callOn(ctx, selectedOptionsJS, nil, false)
	if err != nil {
		return nil, err
	}
	v, err := e.p.parseResult(ctx, obj)
	if err != nil {
		return nil, err
	}
	rs, err := findResults(v)
	return elementsOf(rs), err
}

// Check checks a checkbox or radio button, or unchecks it when uncheck is
// set. Nothing happens when it already is in that state.
func (e *Element) Check(ctx context.Context, uncheck, byJS bool) error {
	checked, err := e.States().IsChecked(ctx)
	if err != nil {
		return err
	}
	if checked != uncheck {
		return nil
	}
	var opts []ClickOption
	if byJS {
		opts = append(opts, ByJS(true))
	}
	_, err = e.Click(ctx, opts...)
	return err
}

// Remove removes the element from the document.
func (e *Element) Remove(ctx context.Context) error {
	id, err := e.object(ctx)
	if err != nil {
		return err
	}
	ectx, err := e.p.executor(ctx)
	if err != nil {
		return err
	}
	nodeID, err := dom.RequestNode(id).Do(ectx)
	if err != nil {
		return wrapErr(err)
	}
	if err := dom.RemoveNode(nodeID).Do(ectx); err != nil {
		return wrapErr(err)
	}
	e.forget()
	return nil
}

// origin returns the viewport position of the page's document inside the
// top level viewport of its tab.
func (p *page) origin(ctx context.Context) (Point, error) {
	if p.host == nil {
		return Point{}, nil
	}
	res, err := p.host.callValue(ctx, `function() {
  var r = this.getBoundingClientRect();
  return {x: r.left + this.clientLeft, y: r.top + this.clientTop};
}`)
	if err != nil {
		return Point{}, err
	}
	parent, err := p.host.p.origin(ctx)
	if err != nil {
		return Point{}, err
	}
	return Point{parent.X + res.Get("x").Float(), parent.Y + res.Get("y").Float()}, nil
}

// inputExecutor returns ctx carrying the tab driver; input events are
// dispatched to the top level target.
func (p *page) inputExecutor(ctx context.Context) (context.Context, error) {
	return p.owner.executor(ctx)
}

// mouse dispatches one mouse event at pt, in the page's viewport
// coordinates.
func (p *page) mouse(ctx context.Context, typ input.MouseType, pt Point, button input.MouseButton, count int) error {
	o, err := p.origin(ctx)
	if err != nil {
		return err
	}
	return p.mouseAbs(ctx, typ, Point{pt.X + o.X, pt.Y + o.Y}, button, count, 0)
}

// mouseAbs dispatches one mouse event at pt in tab coordinates.
func (p *page) mouseAbs(ctx context.Context, typ input.MouseType, pt Point, button input.MouseButton, count int, mods input.Modifier) error {
	ectx, err := p.inputExecutor(ctx)
	if err != nil {
		return err
	}
	ev := input.DispatchMouseEvent(typ, pt.X, pt.Y).WithModifiers(mods)
	if button != "" && button != input.None {
		ev = ev.WithButton(button).WithClickCount(int64(count))
	}
	return wrapErr(ev.Do(ectx))
}

func (p *page) mouseClick(ctx context.Context, pt Point, button input.MouseButton, times int) error {
	if times < 1 {
		times = 1
	}
	if err := p.mouse(ctx, input.MouseMoved, pt, input.None, 0); err != nil {
		return err
	}
	for i := 1; i <= times; i++ {
		if err := p.mouse(ctx, input.MousePressed, pt, button, i); err != nil {
			return err
		}
		if err := p.mouse(ctx, input.MouseReleased, pt, button, i); err != nil {
			return err
		}
	}
	return nil
}

// dragStep is the cadence of intermediate mouse moves.
const dragStep = 50 * time.Millisecond

func (p *page) drag(ctx context.Context, from, to Point, duration time.Duration) error {
	if err := p.mouse(ctx, input.MouseMoved, from, input.None, 0); err != nil {
		return err
	}
	if err := p.mouse(ctx, input.MousePressed, from, input.Left, 1); err != nil {
		return err
	}
	steps := int(duration / dragStep)
	if steps < 1 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		f := float64(i) / float64(steps)
		pt := Point{from.X + (to.X-from.X)*f, from.Y + (to.Y-from.Y)*f}
		if err := p.mouse(ctx, input.MouseMoved, pt, input.Left, 0); err != nil {
			return err
		}
		if i < steps {
			if err := sleep(ctx, dragStep); err != nil {
				return err
			}
		}
	}
	return p.mouse(ctx, input.MouseReleased, to, input.Left, 1)
}

// typeText inserts text, dispatching special keys and newlines as key
// events.
func (p *page) typeText(ctx context.Context, text string, mods input.Modifier) error {
	var buf strings.Builder
	flush := func() error {
		if buf.Len() == 0 {
			return nil
		}
		defer buf.Reset()
		ectx, err := p.inputExecutor(ctx)
		if err != nil {
			return err
		}
		return wrapErr(input.InsertText(buf.String()).Do(ectx))
	}
	for _, r := range text {
		if mods == 0 && r != '\n' && r != '\r' && !kb.IsSpecial(string(r)) {
			buf.WriteRune(r)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if err := p.keys(ctx, string(r), mods); err != nil {
			return err
		}
	}
	return flush()
}

// keys dispatches the key events of every rune in s.
func (p *page) keys(ctx context.Context, s string, mods input.Modifier) error {
	ectx, err := p.inputExecutor(ctx)
	if err != nil {
		return err
	}
	for _, r := range s {
		for _, ev := range kb.EncodeWith(r, mods) {
			if err := ev.Do(ectx); err != nil {
				return wrapErr(err)
			}
		}
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
