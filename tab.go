package drission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/sirupsen/logrus"

	"github.com/chromedp/drission/driver"
)

// Tab is a browser page target. It is safe for concurrent use; operations
// on the same tab are serialized by the browser.
type Tab struct {
	*page

	alert alertState

	umu     sync.Mutex
	uploads []string

	smu         sync.Mutex
	initScripts map[string]bool
	listener    *Listener
	screencast  *Screencast
}

func newTab(ctx context.Context, b *Browser, id string) (*Tab, error) {
	t := &Tab{
		page:        newPage(b, id, id, id, logrus.Fields{"tab": id}),
		initScripts: make(map[string]bool),
	}
	t.owner = t
	t.alert.init()
	t.searchable = true
	t.hooks = append(t.hooks, t.wire)
	b.setFrame(id, id)
	if err := t.attach(ctx); err != nil {
		t.detach()
		return nil, err
	}
	return t, nil
}

// wire registers the tab level callbacks on a freshly dialed driver.
func (t *Tab) wire(ctx context.Context, drv *driver.Driver) error {
	drv.SetCallback("Page.javascriptDialogOpening", func(ev *driver.Event) { t.onDialogOpening(drv, ev) }, true)
	drv.SetCallback("Page.javascriptDialogClosed", t.onDialogClosed, true)
	drv.SetCallback("Page.frameDetached", t.onFrameDetached, false)
	drv.SetCallback("Page.fileChooserOpened", func(ev *driver.Event) { t.onFileChooser(drv, ev) }, false)

	_, err := drv.Call(ctx, "Emulation.setFocusEmulationEnabled", map[string]bool{"enabled": true})
	return wrapErr(err)
}

func (t *Tab) onFrameDetached(ev *driver.Event) {
	t.page.onFrameDetached(ev)
	if ev.Get("reason").String() == "swap" {
		// the frame lives on in its own target
		return
	}
	t.b.removeFrame(ev.Get("frameId").String())
}

// ID returns the target id of the tab.
func (t *Tab) ID() string {
	return t.tabID
}

// Browser returns the browser the tab belongs to.
func (t *Tab) Browser() *Browser {
	return t.b
}

// Activate brings the tab to the front.
func (t *Tab) Activate(ctx context.Context) error {
	return t.b.ActivateTab(ctx, t.tabID)
}

// Close closes the tab.
func (t *Tab) Close(ctx context.Context) error {
	if err := t.b.CloseTabs(ctx, []string{t.tabID}, false); err != nil {
		return err
	}
	t.detach()
	return nil
}

// IsClosed reports whether the target went away.
func (t *Tab) IsClosed() bool {
	return t.closed.Load()
}

// detach stops the tab driver and its auxiliary drivers.
func (t *Tab) detach() {
	t.smu.Lock()
	l, sc := t.listener, t.screencast
	t.smu.Unlock()
	if l != nil {
		l.Stop()
	}
	if sc != nil {
		_, _ = sc.Stop(context.Background())
	}
	t.page.detach()
}

// Listen returns the network listener of the tab.
func (t *Tab) Listen() *Listener {
	t.smu.Lock()
	defer t.smu.Unlock()
	if t.listener == nil {
		t.listener = newListener(t)
	}
	return t.listener
}

// Screencast returns the screencast recorder of the tab.
func (t *Tab) Screencast() *Screencast {
	t.smu.Lock()
	defer t.smu.Unlock()
	if t.screencast == nil {
		t.screencast = newScreencast(t)
	}
	return t.screencast
}

// Set returns the tab setter.
func (t *Tab) Set() *Setter {
	return &Setter{t: t}
}

// Wait returns the tab waiter.
func (t *Tab) Wait() *Waiter {
	return &Waiter{p: t.page, t: t}
}

// Actions starts an action chain on the tab.
func (t *Tab) Actions() *Actions {
	return newActions(t.page)
}

// Rect returns the geometry of the tab window and viewport.
func (t *Tab) Rect() *PageRect {
	return &PageRect{p: t.page}
}

// AddInitJS registers a script evaluated in every new document and returns
// its id.
func (t *Tab) AddInitJS(ctx context.Context, script string) (string, error) {
	res, err := t.call(ctx, "Page.addScriptToEvaluateOnNewDocument", map[string]string{"source": script})
	if err != nil {
		return "", err
	}
	id := res.Get("identifier").String()
	t.smu.Lock()
	t.initScripts[id] = true
	t.smu.Unlock()
	return id, nil
}

// RemoveInitJS removes a script added with AddInitJS. With no ids, every
// script is removed.
func (t *Tab) RemoveInitJS(ctx context.Context, ids ...string) error {
	t.smu.Lock()
	if len(ids) == 0 {
		for id := range t.initScripts {
			ids = append(ids, id)
		}
	}
	t.smu.Unlock()
	for _, id := range ids {
		if _, err := t.call(ctx, "Page.removeScriptToEvaluateOnNewDocument", map[string]string{"identifier": id}); err != nil {
			return err
		}
		t.smu.Lock()
		delete(t.initScripts, id)
		t.smu.Unlock()
	}
	return nil
}

// Cookies returns the cookies of the current URL, or of every domain when
// all is true.
func (t *Tab) Cookies(ctx context.Context, all bool) ([]*Cookie, error) {
	if all {
		res, err := t.call(ctx, "Storage.getCookies", nil)
		if err != nil {
			// only the browser target serves Storage on some builds
			return t.b.Cookies(ctx)
		}
		return parseCookies(res.Get("cookies")), nil
	}
	res, err := t.call(ctx, "Network.getCookies", nil)
	if err != nil {
		return nil, err
	}
	return parseCookies(res.Get("cookies")), nil
}

// GetFrame returns the frame selected by a locator or, for an int, the
// 1-based index among the frames of the page.
func (t *Tab) GetFrame(ctx context.Context, locOrIndex interface{}, opts ...FindOption) (*Frame, error) {
	var ele *Element
	var err error
	switch v := locOrIndex.(type) {
	case int:
		ele, err = t.Ele(ctx, "xpath://*[name()='iframe' or name()='frame']", append(opts, Index(v))...)
	default:
		ele, err = t.Ele(ctx, v, opts...)
	}
	if err != nil {
		return nil, err
	}
	return ele.Frame(ctx)
}

// Frames returns every frame of the page.
func (t *Tab) Frames(ctx context.Context) ([]*Frame, error) {
	eles, err := t.Eles(ctx, "xpath://*[name()='iframe' or name()='frame']")
	if err != nil {
		return nil, err
	}
	frames := make([]*Frame, 0, len(eles))
	for _, e := range eles {
		f, err := e.Frame(ctx)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (t *Tab) onFileChooser(drv *driver.Driver, ev *driver.Event) {
	t.umu.Lock()
	files := t.uploads
	t.uploads = nil
	t.umu.Unlock()
	if len(files) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.Timeouts().Base)
	defer cancel()
	ectx := cdp.WithExecutor(ctx, drv)
	backend := cdp.BackendNodeID(ev.Get("backendNodeId").Int())
	if err := dom.SetFileInputFiles(files).WithBackendNodeID(backend).Do(ectx); err != nil {
		t.log.WithError(err).Warn("could not set chooser files")
	}
	if _, err := drv.Call(ctx, "Page.setInterceptFileChooserDialog", map[string]bool{"enabled": false}); err != nil {
		t.log.WithError(err).Debug("setInterceptFileChooserDialog")
	}
}

// String satisfies fmt.Stringer.
func (t *Tab) String() string {
	return fmt.Sprintf("<Tab %s>", t.tabID)
}

// waitFor polls cond every 100ms until it holds or timeout passes. The
// result follows the wait policy of the browser settings.
func (p *page) waitFor(ctx context.Context, timeout time.Duration, cond func(context.Context) (bool, error)) (bool, error) {
	if timeout <= 0 {
		timeout = p.Timeouts().Base
	}
	err := Retry{Interval: 100 * time.Millisecond, Deadline: timeout}.Do(ctx, func(ctx context.Context) error {
		ok, err := cond(ctx)
		switch {
		case err != nil && transient(err):
			return errRetry
		case err != nil:
			return stop(err)
		case !ok:
			return errRetry
		}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrWaitTimeout) && !p.b.settings.RaiseWhenWaitFailed():
		return false, nil
	}
	return false, err
}
