package drission

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/sirupsen/logrus"

	"github.com/chromedp/drission/driver"
)

// Frame is the document of an iframe or frame element. Same-origin frames
// live in their tab's target; cross-origin frames have a target of their
// own. The frame follows its document when it switches between the two.
type Frame struct {
	*page

	tab   *Tab
	ele   *Element
	cross atomic.Bool
}

func newFrame(ctx context.Context, tab *Tab, ele *Element) (*Frame, error) {
	node, err := ele.describe(ctx)
	if err != nil {
		return nil, err
	}
	if node.FrameID == "" {
		return nil, fmt.Errorf("%w: <%s> is not a frame element", ErrInvalidArgument, node.LocalName)
	}
	frameID := string(node.FrameID)
	cross, err := isCrossOrigin(ctx, ele.p, frameID)
	if err != nil {
		return nil, err
	}
	// a same-origin frame is reached through the driver of the page
	// holding its element
	var parent *page
	targetID := frameID
	if !cross {
		parent = ele.p.root()
		targetID, _ = parent.ids()
	}

	f := &Frame{
		page: newPage(tab.b, tab.tabID, targetID, frameID, logrus.Fields{"tab": tab.tabID, "frame": frameID}),
		tab:  tab,
		ele:  ele,
	}
	f.owner = tab
	f.host = ele
	f.parent = parent
	f.onDetach = f.onSwap
	f.cross.Store(cross)
	f.configure()
	f.hooks = append(f.hooks, f.wire)
	tab.b.setFrame(frameID, tab.tabID)
	if err := f.attach(ctx); err != nil {
		f.detach()
		return nil, err
	}
	return f, nil
}

// isCrossOrigin reports whether frameID is missing from the frame tree of
// the parent document's target.
func isCrossOrigin(ctx context.Context, parent *page, frameID string) (bool, error) {
	tree, err := parent.frameTree(ctx)
	if err != nil {
		return false, err
	}
	stack := []*cdppage.FrameTree{tree}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t == nil || t.Frame == nil {
			continue
		}
		if string(t.Frame.ID) == frameID {
			return false, nil
		}
		stack = append(stack, t.ChildFrames...)
	}
	return true, nil
}

// configure selects the document source for the current regime.
func (f *Frame) configure() {
	if f.cross.Load() {
		f.loadDoc = f.topDocument
		f.searchable = true
		return
	}
	f.loadDoc = f.contentDocument
	f.searchable = false
}

// wire watches the own target of a cross-origin frame; it detaches when the
// frame goes back into its parent's process.
func (f *Frame) wire(ctx context.Context, drv *driver.Driver) error {
	drv.SetCallback("Inspector.detached", f.onSwap, false)
	return nil
}

// contentDocument reads the document of a same-origin frame through its
// owner element.
func (f *Frame) contentDocument(ctx context.Context) (*document, error) {
	ectx, err := f.executor(ctx)
	if err != nil {
		return nil, err
	}
	node, err := dom.DescribeNode().WithBackendNodeID(f.ele.backendID).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if node.ContentDocument == nil {
		return nil, ErrContextLost
	}
	backend := node.ContentDocument.BackendNodeID
	obj, err := dom.ResolveNode().WithBackendNodeID(backend).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &document{objectID: obj.ObjectID, backendID: backend}, nil
}

// onSwap follows the frame into its new regime. Operations block until the
// document has been read again.
func (f *Frame) onSwap(*driver.Event) {
	if f.closed.Load() {
		return
	}
	f.beginSwap()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.endSwap()
		ctx, cancel := context.WithTimeout(context.Background(), f.Timeouts().Base)
		defer cancel()
		if err := f.reload(ctx); err != nil {
			f.log.WithError(err).Warn("frame swap")
		}
	}()
}

func (f *Frame) reload(ctx context.Context) error {
	// the swap gate stays closed for everyone but this goroutine
	ctx = context.WithValue(ctx, swapKey{}, true)
	var node *cdp.Node
	err := f.tab.retry(ctx, func(ctx context.Context) error {
		var err error
		node, err = f.ele.describe(ctx)
		return err
	})
	if err != nil {
		return err
	}
	frameID := string(node.FrameID)
	cross, err := isCrossOrigin(ctx, f.ele.p, frameID)
	if err != nil {
		return err
	}

	var parent *page
	targetID := frameID
	if !cross {
		parent = f.ele.p.root()
		targetID, _ = parent.ids()
	}
	if old := f.sharedWith(); old != nil {
		old.disown(f.page)
	}

	f.mu.Lock()
	f.frameID, f.targetID, f.parent = frameID, targetID, parent
	f.doc = nil
	f.mu.Unlock()
	f.cross.Store(cross)
	f.configure()
	f.b.setFrame(frameID, f.tabID)
	f.log.WithField("cross", cross).Debug("frame swapped")

	return f.attach(ctx)
}

// retry runs fn until it stops returning transient errors.
func (p *page) retry(ctx context.Context, fn func(context.Context) error) error {
	return Retry{Deadline: p.Timeouts().Base}.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || transient(err) {
			return err
		}
		return stop(err)
	})
}

// Tab returns the tab the frame belongs to.
func (f *Frame) Tab() *Tab {
	return f.tab
}

// FrameElement returns the iframe or frame element owning the frame.
func (f *Frame) FrameElement() *Element {
	return f.ele
}

// IsCrossOrigin reports whether the frame has its own target.
func (f *Frame) IsCrossOrigin() bool {
	return f.cross.Load()
}

// Wait returns a waiter over the frame document.
func (f *Frame) Wait() *Waiter {
	return &Waiter{p: f.page, t: f.tab}
}

// Close releases the frame's connection.
func (f *Frame) Close() {
	f.detach()
}

// String satisfies fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("<Frame %s in %s>", f.FrameID(), f.tabID)
}
