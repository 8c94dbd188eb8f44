package drission

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Waiter blocks until a page reaches a condition. Every wait takes a
// timeout; zero means the Base timeout of the page. A wait that runs out
// reports false, or returns ErrWaitTimeout when the browser settings raise
// on failed waits.
type Waiter struct {
	p *page
	t *Tab
}

// lookup makes one lookup attempt and returns the first element, or nil.
func (p *page) lookup(ctx context.Context, loc interface{}) (*Element, error) {
	rs, _, err := p.poll(ctx, p.search, loc, []FindOption{FindTimeout(0)})
	if err != nil {
		return nil, err
	}
	if es := elementsOf(rs); len(es) > 0 {
		return es[0], nil
	}
	return nil, nil
}

// Sleep pauses for d.
func (w *Waiter) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

// LoadStart waits for a navigation to begin.
func (w *Waiter) LoadStart(ctx context.Context, timeout time.Duration) (bool, error) {
	seq := w.p.seq()
	return w.p.waitFor(ctx, timeout, func(context.Context) (bool, error) {
		return w.p.seq() > seq, nil
	})
}

// Load waits for a navigation to begin and then for the page to load as
// the load mode says.
func (w *Waiter) Load(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = w.p.Timeouts().PageLoad
	}
	start := time.Now()
	ok, err := w.LoadStart(ctx, timeout)
	if !ok || err != nil {
		return ok, err
	}
	return w.DocLoaded(ctx, timeout-time.Since(start))
}

// DocLoaded waits for the current document to finish loading.
func (w *Waiter) DocLoaded(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = w.p.Timeouts().PageLoad
	}
	wctx, cancel := deadline(ctx, timeout)
	defer cancel()
	err := w.p.waitLoaded(wctx)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() == nil && wctx.Err() != nil:
		if w.p.b.settings.RaiseWhenWaitFailed() {
			return false, ErrWaitTimeout
		}
		return false, nil
	}
	return false, err
}

// EleLoaded waits for an element matching loc to be in the document.
func (w *Waiter) EleLoaded(ctx context.Context, loc interface{}, timeout time.Duration) (*Element, error) {
	var found *Element
	ok, err := w.p.waitFor(ctx, timeout, func(ctx context.Context) (bool, error) {
		e, err := w.p.lookup(ctx, loc)
		found = e
		return e != nil, err
	})
	if err != nil || !ok {
		return nil, err
	}
	return found, nil
}

// EleDeleted waits until no element matches loc.
func (w *Waiter) EleDeleted(ctx context.Context, loc interface{}, timeout time.Duration) (bool, error) {
	return w.p.waitFor(ctx, timeout, func(ctx context.Context) (bool, error) {
		e, err := w.p.lookup(ctx, loc)
		return e == nil, err
	})
}

// EleDisplayed waits for an element matching loc to be displayed.
func (w *Waiter) EleDisplayed(ctx context.Context, loc interface{}, timeout time.Duration) (bool, error) {
	return w.p.waitFor(ctx, timeout, func(ctx context.Context) (bool, error) {
		e, err := w.p.lookup(ctx, loc)
		if err != nil || e == nil {
			return false, err
		}
		return e.States().IsDisplayed(ctx)
	})
}

// EleHidden waits for the element matching loc to be hidden. A missing
// element counts as hidden.
func (w *Waiter) EleHidden(ctx context.Context, loc interface{}, timeout time.Duration) (bool, error) {
	return w.p.waitFor(ctx, timeout, func(ctx context.Context) (bool, error) {
		e, err := w.p.lookup(ctx, loc)
		if err != nil || e == nil {
			return e == nil && err == nil, err
		}
		shown, err := e.States().IsDisplayed(ctx)
		return !shown, err
	})
}

// URLChange waits for the URL to contain text, or to stop containing it
// when exclude is set.
func (w *Waiter) URLChange(ctx context.Context, text string, exclude bool, timeout time.Duration) (bool, error) {
	return w.p.waitFor(ctx, timeout, func(ctx context.Context) (bool, error) {
		u, err := w.p.URL(ctx)
		return strings.Contains(u, text) != exclude, err
	})
}

// TitleChange waits for the title to contain text, or to stop containing
// it when exclude is set.
func (w *Waiter) TitleChange(ctx context.Context, text string, exclude bool, timeout time.Duration) (bool, error) {
	return w.p.waitFor(ctx, timeout, func(ctx context.Context) (bool, error) {
		s, err := w.p.Title(ctx)
		return strings.Contains(s, text) != exclude, err
	})
}

// NewTab waits for a tab to open and returns its id.
func (w *Waiter) NewTab(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = w.p.Timeouts().Base
	}
	id, err := w.p.b.WaitNewTab(ctx, timeout)
	if errors.Is(err, ErrWaitTimeout) && !w.p.b.settings.RaiseWhenWaitFailed() {
		return "", nil
	}
	return id, err
}

// Alert waits for a javascript dialog to open.
func (w *Waiter) Alert(ctx context.Context, timeout time.Duration) (Alert, bool, error) {
	if timeout <= 0 {
		timeout = w.p.Timeouts().Base
	}
	a, err := w.t.waitAlert(ctx, timeout)
	switch {
	case err == nil:
		return a, true, nil
	case errors.Is(err, ErrWaitTimeout) && !w.p.b.settings.RaiseWhenWaitFailed():
		return a, false, nil
	}
	return a, false, err
}

// DownloadBegin waits for the next download of the tab to begin and
// returns it. With cancel set the download is canceled right away.
func (w *Waiter) DownloadBegin(ctx context.Context, cancel bool, timeout time.Duration) (*Mission, error) {
	if timeout <= 0 {
		timeout = w.p.Timeouts().Base
	}
	m, err := w.p.b.downloads.waitBegin(ctx, w.t.tabID, cancel, timeout)
	if errors.Is(err, ErrWaitTimeout) && !w.p.b.settings.RaiseWhenWaitFailed() {
		return nil, nil
	}
	return m, err
}

// DownloadsDone waits for every download of the tab to end. With
// cancelIfTimeout set the unfinished ones are canceled on timeout.
func (w *Waiter) DownloadsDone(ctx context.Context, timeout time.Duration, cancelIfTimeout bool) (bool, error) {
	if timeout <= 0 {
		timeout = w.p.Timeouts().PageLoad
	}
	return w.p.b.downloads.waitTab(ctx, w.t.tabID, timeout, cancelIfTimeout, w.p.b.settings.RaiseWhenWaitFailed())
}

// ElementWaiter blocks until an element reaches a condition.
type ElementWaiter struct {
	e *Element
}

func (w *ElementWaiter) until(ctx context.Context, timeout time.Duration, cond func(context.Context) (bool, error)) (bool, error) {
	if w.e.IsNone() {
		return false, w.e.notFound()
	}
	return w.e.p.waitFor(ctx, timeout, cond)
}

// Displayed waits for the element to be displayed.
func (w *ElementWaiter) Displayed(ctx context.Context, timeout time.Duration) (bool, error) {
	return w.until(ctx, timeout, w.e.States().IsDisplayed)
}

// Hidden waits for the element to be hidden.
func (w *ElementWaiter) Hidden(ctx context.Context, timeout time.Duration) (bool, error) {
	return w.until(ctx, timeout, func(ctx context.Context) (bool, error) {
		ok, err := w.e.States().IsDisplayed(ctx)
		return !ok, err
	})
}

// Deleted waits for the element to leave the document.
func (w *ElementWaiter) Deleted(ctx context.Context, timeout time.Duration) (bool, error) {
	return w.until(ctx, timeout, func(ctx context.Context) (bool, error) {
		return !w.e.IsAlive(ctx), nil
	})
}

// Enabled waits for the element to be enabled.
func (w *ElementWaiter) Enabled(ctx context.Context, timeout time.Duration) (bool, error) {
	return w.until(ctx, timeout, w.e.States().IsEnabled)
}

// Disabled waits for the element to be disabled.
func (w *ElementWaiter) Disabled(ctx context.Context, timeout time.Duration) (bool, error) {
	return w.until(ctx, timeout, func(ctx context.Context) (bool, error) {
		ok, err := w.e.States().IsEnabled(ctx)
		return !ok, err
	})
}

// HasRect waits for the element to get a layout box.
func (w *ElementWaiter) HasRect(ctx context.Context, timeout time.Duration) (bool, error) {
	return w.until(ctx, timeout, w.e.States().HasRect)
}

// Clickable waits for the element to be displayed, enabled and uncovered.
func (w *ElementWaiter) Clickable(ctx context.Context, timeout time.Duration) (bool, error) {
	return w.until(ctx, timeout, w.e.States().IsClickable)
}

// Covered waits for another element to cover the element.
func (w *ElementWaiter) Covered(ctx context.Context, timeout time.Duration) (bool, error) {
	return w.until(ctx, timeout, w.e.States().IsCovered)
}

// Stop waits for the element to stop moving or resizing.
func (w *ElementWaiter) Stop(ctx context.Context, timeout time.Duration) (bool, error) {
	r := w.e.Rect()
	var prev *box
	return w.until(ctx, timeout, func(ctx context.Context) (bool, error) {
		b, err := r.box(ctx)
		if err != nil {
			return false, err
		}
		still := prev != nil && *prev == b
		prev = &b
		return still, nil
	})
}
