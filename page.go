package drission

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/chromedp/drission/driver"
)

// document is the root of the document a page currently shows.
type document struct {
	objectID  runtime.RemoteObjectID
	backendID cdp.BackendNodeID
	nodeID    cdp.NodeID
}

// page is the navigable document machine shared by Tab and Frame: a driver,
// the ready state, the document root and everything built on them.
type page struct {
	b        *Browser
	owner    *Tab
	host     *Element
	tabID    string
	targetID string
	frameID  string

	log    *logrus.Entry
	tracer trace.Tracer

	dmu sync.RWMutex
	drv *driver.Driver

	cmu           sync.RWMutex
	timeouts      Timeouts
	loadMode      LoadMode
	retryTimes    int
	retryInterval time.Duration

	mu       sync.Mutex
	parent   *page
	state    ReadyState
	navSeq   uint64
	changed  chan struct{}
	doc      *document
	url      string
	eager    *sync.Once
	watchdog *time.Timer
	swapping chan struct{}

	kmu  sync.Mutex
	kids map[string]*page

	docGroup singleflight.Group
	wg       sync.WaitGroup
	closed   atomic.Bool

	// loadDoc fetches the document root; tabs and cross-origin frames read
	// their target's document, same-origin frames their content document.
	loadDoc func(context.Context) (*document, error)
	// searchable is set when DOM.performSearch and querySelectorAll on the
	// target cover exactly this document.
	searchable bool
	// hooks run on every driver the page dials, after the page callbacks
	// are registered and before the domains are enabled.
	hooks []func(context.Context, *driver.Driver) error
	// onDetach runs when the page's frame detaches from the document
	// holding it.
	onDetach func(*driver.Event)
}

func newPage(b *Browser, tabID, targetID, frameID string, fields logrus.Fields) *page {
	p := &page{
		b:             b,
		tabID:         tabID,
		targetID:      targetID,
		frameID:       frameID,
		log:           b.log.WithFields(fields),
		tracer:        otel.Tracer("github.com/chromedp/drission"),
		timeouts:      b.timeouts,
		loadMode:      b.loadMode,
		retryTimes:    b.retryTimes,
		retryInterval: b.retryInterval,
		state:         StateConnecting,
		changed:       make(chan struct{}),
		eager:         new(sync.Once),
	}
	p.loadDoc = p.topDocument
	return p
}

// attach connects the page driver, wires the load events and reads the
// current document.
func (p *page) attach(ctx context.Context) error {
	if parent := p.sharedWith(); parent != nil {
		return p.attachShared(ctx, parent)
	}
	targetID, frameID := p.ids()
	drv, err := p.b.newDriver(ctx, p.tabID, targetID, logrus.Fields{"tab": p.tabID, "frame": frameID})
	if err != nil {
		return err
	}
	drv.SetCallback("Page.frameDetached", p.onFrameDetached, false)
	drv.SetCallback("Page.frameStartedLoading", p.onStartedLoading, false)
	drv.SetCallback("Page.frameNavigated", p.onNavigated, false)
	drv.SetCallback("Page.domContentEventFired", p.onDOMContent, false)
	drv.SetCallback("Page.loadEventFired", p.onLoadEvent, false)
	drv.SetCallback("Page.frameStoppedLoading", p.onStoppedLoading, false)
	drv.SetCallback("Page.frameAttached", p.onFrameAttached, false)
	for _, h := range p.hooks {
		if err := h(ctx, drv); err != nil {
			drv.Stop()
			return err
		}
	}

	p.dmu.Lock()
	old := p.drv
	p.drv = drv
	p.dmu.Unlock()
	if old != nil {
		old.Stop()
	}

	for _, m := range []string{"Page.enable", "DOM.enable"} {
		if _, err := drv.Call(ctx, m, nil); err != nil {
			return wrapErr(err)
		}
	}

	if _, err := p.acquire(ctx); err != nil {
		return err
	}
	p.setState(p.currentReadyState(ctx))
	return nil
}

// attachShared makes the page use the driver of parent, the page whose
// target holds its document.
func (p *page) attachShared(ctx context.Context, parent *page) error {
	p.dmu.Lock()
	own := p.drv
	p.drv = nil
	p.dmu.Unlock()
	if own != nil {
		own.Stop()
	}
	parent.adopt(p)
	if _, err := p.acquire(ctx); err != nil {
		return err
	}
	p.setState(p.currentReadyState(ctx))
	return nil
}

// detach stops the page driver and waits for background work. A shared
// driver stays up.
func (p *page) detach() {
	p.closed.Store(true)
	p.mu.Lock()
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	parent := p.parent
	p.mu.Unlock()
	if parent != nil {
		parent.disown(p)
	}
	p.dmu.RLock()
	own := p.drv
	p.dmu.RUnlock()
	if own != nil {
		own.Stop()
	}
	p.wg.Wait()
}

// ids returns the target and the frame the page currently shows.
func (p *page) ids() (targetID, frameID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetID, p.frameID
}

// sharedWith returns the page whose driver p uses, nil when p has its own.
func (p *page) sharedWith() *page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

// root returns the page owning the driver p's document is reached through.
func (p *page) root() *page {
	for {
		parent := p.sharedWith()
		if parent == nil {
			return p
		}
		p = parent
	}
}

// adopt routes the events of kid's frame, which arrive on p's driver, to
// kid.
func (p *page) adopt(kid *page) {
	_, frameID := kid.ids()
	p.kmu.Lock()
	defer p.kmu.Unlock()
	if p.kids == nil {
		p.kids = make(map[string]*page)
	}
	p.kids[frameID] = kid
}

func (p *page) disown(kid *page) {
	p.kmu.Lock()
	defer p.kmu.Unlock()
	for id, k := range p.kids {
		if k == kid {
			delete(p.kids, id)
		}
	}
}

func (p *page) kid(frameID string) *page {
	p.kmu.Lock()
	defer p.kmu.Unlock()
	return p.kids[frameID]
}

func (p *page) rawDriver() *driver.Driver {
	if parent := p.sharedWith(); parent != nil {
		return parent.rawDriver()
	}
	p.dmu.RLock()
	defer p.dmu.RUnlock()
	return p.drv
}

// driver returns a live driver, blocking while a frame swaps documents and
// reconnecting a driver that lost its connection.
func (p *page) driver(ctx context.Context) (*driver.Driver, error) {
	if err := p.waitSwap(ctx); err != nil {
		return nil, err
	}
	if parent := p.sharedWith(); parent != nil {
		if p.closed.Load() {
			return nil, ErrPageDisconnected
		}
		return parent.driver(ctx)
	}
	drv := p.rawDriver()
	if drv != nil && !drv.Stopped() {
		return drv, nil
	}
	if p.closed.Load() {
		return nil, ErrPageDisconnected
	}
	if _, ok := p.b.FrameTab(p.tabID); !ok {
		return nil, ErrPageDisconnected
	}
	p.log.Debug("reconnecting")
	if err := p.attach(ctx); err != nil {
		return nil, err
	}
	return p.rawDriver(), nil
}

// call runs method on the page target.
func (p *page) call(ctx context.Context, method string, params interface{}, opts ...driver.CallOption) (gjson.Result, error) {
	drv, err := p.driver(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	res, err := drv.Call(ctx, method, params, opts...)
	return res, wrapErr(err)
}

// executor returns ctx carrying the page driver for cdproto builders.
func (p *page) executor(ctx context.Context, opts ...driver.CallOption) (context.Context, error) {
	drv, err := p.driver(ctx)
	if err != nil {
		return nil, err
	}
	if len(opts) > 0 {
		ctx = driver.WithCallOptions(ctx, opts...)
	}
	return cdp.WithExecutor(ctx, drv), nil
}

// TabID returns the id of the tab the page belongs to.
func (p *page) TabID() string {
	return p.tabID
}

// FrameID returns the id of the frame whose document the page shows.
func (p *page) FrameID() string {
	_, frameID := p.ids()
	return frameID
}

// Timeouts returns the page timeouts.
func (p *page) Timeouts() Timeouts {
	p.cmu.RLock()
	defer p.cmu.RUnlock()
	return p.timeouts
}

// LoadMode returns the page load mode.
func (p *page) LoadMode() LoadMode {
	p.cmu.RLock()
	defer p.cmu.RUnlock()
	return p.loadMode
}

// ReadyState returns the merged load state.
func (p *page) ReadyState() ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsLoading reports whether the document has not completed loading.
func (p *page) IsLoading() bool {
	return p.ReadyState() != StateComplete
}

func (p *page) setState(s ReadyState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setStateLocked(s)
}

func (p *page) setStateLocked(s ReadyState) {
	if p.state == s {
		return
	}
	p.state = s
	close(p.changed)
	p.changed = make(chan struct{})
	if s == StateComplete && p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
}

// setStateAt sets s only while no navigation newer than seq has started.
func (p *page) setStateAt(seq uint64, s ReadyState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navSeq != seq {
		return false
	}
	p.setStateLocked(s)
	return true
}

// raiseState moves the state forward only.
func (p *page) raiseState(s ReadyState) {
	if p.ReadyState().rank() < s.rank() {
		p.setState(s)
	}
}

// waitState blocks until the ready state reaches want.
func (p *page) waitState(ctx context.Context, want ReadyState) error {
	for {
		p.mu.Lock()
		s, ch := p.state, p.changed
		p.mu.Unlock()
		if s.rank() >= want.rank() {
			return nil
		}
		drv := p.rawDriver()
		var done <-chan struct{}
		if drv != nil {
			done = drv.Done()
		}
		select {
		case <-ch:
		case <-done:
			return ErrPageDisconnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitLoaded waits for the state the load mode releases waiters at.
func (p *page) waitLoaded(ctx context.Context) error {
	switch p.LoadMode() {
	case LoadNone:
		return nil
	case LoadEager:
		return p.waitState(ctx, StateInteractive)
	}
	return p.waitState(ctx, StateComplete)
}

func (p *page) onStartedLoading(ev *driver.Event) {
	_, frameID := p.ids()
	if id := ev.Get("frameId").String(); id != frameID {
		if k := p.kid(id); k != nil {
			k.onStartedLoading(ev)
		}
		return
	}
	p.mu.Lock()
	p.doc = nil
	p.eager = new(sync.Once)
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
	p.state = StateConnecting
	p.navSeq++
	if p.LoadMode() == LoadEager {
		once, seq := p.eager, p.navSeq
		p.watchdog = time.AfterFunc(p.Timeouts().PageLoad, func() {
			p.log.Debug("page load deadline, stopping")
			p.eagerStop(once, seq)
		})
	}
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
}

func (p *page) onNavigated(ev *driver.Event) {
	frame := ev.Get("frame")
	id := frame.Get("id").String()
	p.b.setFrame(id, p.tabID)
	if _, frameID := p.ids(); id != frameID {
		if k := p.kid(id); k != nil {
			k.onNavigated(ev)
		}
		return
	}
	p.mu.Lock()
	p.url = frame.Get("url").String() + frame.Get("urlFragment").String()
	p.mu.Unlock()
	p.setState(StateLoading)
}

func (p *page) onDOMContent(*driver.Event) {
	if targetID, frameID := p.ids(); frameID != targetID {
		return
	}
	p.raiseState(StateInteractive)
	if p.LoadMode() == LoadEager {
		p.mu.Lock()
		once, seq := p.eager, p.navSeq
		p.mu.Unlock()
		p.eagerStop(once, seq)
	}
}

func (p *page) onLoadEvent(*driver.Event) {
	if targetID, frameID := p.ids(); frameID == targetID {
		p.log.Debug("load event fired")
	}
}

func (p *page) onStoppedLoading(ev *driver.Event) {
	_, frameID := p.ids()
	if id := ev.Get("frameId").String(); id != frameID {
		if k := p.kid(id); k != nil {
			k.onStoppedLoading(ev)
		}
		return
	}
	p.goLoaded(p.seq())
}

func (p *page) onFrameDetached(ev *driver.Event) {
	if k := p.kid(ev.Get("frameId").String()); k != nil && k.onDetach != nil {
		k.onDetach(ev)
	}
}

func (p *page) onFrameAttached(ev *driver.Event) {
	p.b.setFrame(ev.Get("frameId").String(), p.tabID)
}

// eagerStop stops loading once per navigation and re-reads the document.
// Both the DOMContentLoaded handler and the watchdog may call it.
func (p *page) eagerStop(once *sync.Once, seq uint64) {
	once.Do(func() {
		drv := p.rawDriver()
		if drv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.Timeouts().Base)
		defer cancel()
		if _, err := drv.Call(ctx, "Page.stopLoading", nil); err != nil {
			p.log.WithError(err).Debug("stopLoading")
		}
		p.goLoaded(seq)
	})
}

// goLoaded re-reads the document in the background and marks the page
// complete, unless a navigation newer than seq has started meanwhile.
func (p *page) goLoaded(seq uint64) {
	if p.closed.Load() {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.Timeouts().Base)
		defer cancel()
		if _, err := p.acquire(ctx); err != nil {
			p.log.WithError(err).Warn("could not read document")
		}
		if !p.setStateAt(seq, StateComplete) {
			p.log.Debug("stale load, a newer navigation started")
		}
	}()
}

// acquire reads the document root, absorbing context loss while the page
// is still navigating. Concurrent callers of one navigation share one
// acquisition. A root read across a navigation is returned but not kept.
func (p *page) acquire(ctx context.Context) (*document, error) {
	seq := p.seq()
	v, err, _ := p.docGroup.Do(strconv.FormatUint(seq, 10), func() (interface{}, error) {
		var doc *document
		err := Retry{Interval: 100 * time.Millisecond, Deadline: p.Timeouts().Base}.Do(ctx, func(ctx context.Context) error {
			d, err := p.loadDoc(ctx)
			switch {
			case err == nil:
				doc = d
				return nil
			case transient(err):
				return err
			}
			return stop(err)
		})
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		if p.navSeq == seq {
			p.doc = doc
		}
		p.mu.Unlock()
		if p.searchable {
			p.registerFrames(ctx)
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*document), nil
}

// document returns the current document root, reading it when a
// navigation invalidated it.
func (p *page) document(ctx context.Context) (*document, error) {
	if err := p.waitSwap(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	doc := p.doc
	p.mu.Unlock()
	if doc != nil {
		return doc, nil
	}
	return p.acquire(ctx)
}

// topDocument reads the document of the page target.
func (p *page) topDocument(ctx context.Context) (*document, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	root, err := dom.GetDocument().Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if root == nil {
		return nil, ErrContextLost
	}
	obj, err := dom.ResolveNode().WithBackendNodeID(root.BackendNodeID).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if obj == nil || obj.ObjectID == "" {
		return nil, ErrContextLost
	}
	return &document{objectID: obj.ObjectID, backendID: root.BackendNodeID, nodeID: root.NodeID}, nil
}

// registerFrames records every frame of the target's frame tree.
func (p *page) registerFrames(ctx context.Context) {
	tree, err := p.frameTree(ctx)
	if err != nil {
		p.log.WithError(err).Debug("getFrameTree")
		return
	}
	var walk func(*cdppage.FrameTree)
	walk = func(t *cdppage.FrameTree) {
		if t == nil || t.Frame == nil {
			return
		}
		p.b.setFrame(string(t.Frame.ID), p.tabID)
		for _, c := range t.ChildFrames {
			walk(c)
		}
	}
	walk(tree)
}

func (p *page) frameTree(ctx context.Context) (*cdppage.FrameTree, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := cdppage.GetFrameTree().Do(ectx)
	return tree, wrapErr(err)
}

// currentReadyState asks the document for its readyState.
func (p *page) currentReadyState(ctx context.Context) ReadyState {
	res, err := p.call(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    "document.readyState",
		"returnByValue": true,
	}, driver.Ignore(driver.KindAlertExists))
	if err != nil {
		return StateComplete
	}
	switch s := ReadyState(res.Get("result.value").String()); s {
	case StateLoading, StateInteractive:
		// frameStoppedLoading completes the state
		return s
	}
	return StateComplete
}

// beginSwap blocks page operations until endSwap.
func (p *page) beginSwap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.swapping == nil {
		p.swapping = make(chan struct{})
	}
}

func (p *page) endSwap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.swapping != nil {
		close(p.swapping)
		p.swapping = nil
	}
}

type swapKey struct{}

func (p *page) waitSwap(ctx context.Context) error {
	if ctx.Value(swapKey{}) != nil {
		return nil
	}
	p.mu.Lock()
	ch := p.swapping
	p.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Timeouts().Base):
		return fmt.Errorf("%w: frame swap did not finish", ErrContextLost)
	}
}

// deadline bounds ctx by d unless ctx already ends earlier.
func deadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
