package drission

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"

	"github.com/chromedp/drission/locator"
)

// Element is a handle to a DOM element, identified by its backend node id.
// The remote object is resolved again when the page loses it.
//
// A none element stands for a failed lookup when the browser settings do not
// raise on missing elements; see IsNone.
type Element struct {
	p         *page
	backendID cdp.BackendNodeID

	mu       sync.Mutex
	objectID runtime.RemoteObjectID
	tag      string

	none  bool
	query string
}

func newElement(p *page, backend cdp.BackendNodeID, obj runtime.RemoteObjectID, tag string) *Element {
	return &Element{p: p, backendID: backend, objectID: obj, tag: strings.ToLower(tag)}
}

func newElementFromObject(ctx context.Context, p *page, obj runtime.RemoteObjectID) (*Element, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	node, err := dom.DescribeNode().WithObjectID(obj).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return newElement(p, node.BackendNodeID, obj, node.LocalName), nil
}

func newElementFromBackend(ctx context.Context, p *page, backend cdp.BackendNodeID) (*Element, error) {
	e := newElement(p, backend, "", "")
	if _, err := e.object(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func noneElement(p *page, query string) *Element {
	return &Element{p: p, none: true, query: query}
}

// IsNone reports whether the element stands for a failed lookup.
func (e *Element) IsNone() bool {
	return e == nil || e.none
}

// BackendID returns the backend node id.
func (e *Element) BackendID() cdp.BackendNodeID {
	return e.backendID
}

// Equal reports whether both handles refer to the same node.
func (e *Element) Equal(o *Element) bool {
	if e.IsNone() || o.IsNone() {
		return e.IsNone() && o.IsNone()
	}
	et, _ := e.p.ids()
	ot, _ := o.p.ids()
	return et == ot && e.backendID == o.backendID
}

// String satisfies fmt.Stringer.
func (e *Element) String() string {
	if e.IsNone() {
		return fmt.Sprintf("<NoneElement %s>", e.query)
	}
	return fmt.Sprintf("<Element %s %d>", e.tag, e.backendID)
}

// notFound is returned by operations on a none element.
func (e *Element) notFound() error {
	return fmt.Errorf("%w: %s", ErrElementNotFound, e.query)
}

// noneValue is the result of read-only getters of a none element.
func (e *Element) noneValue() (string, error) {
	if v := e.p.b.settings.NoneElementValue(); v.Valid {
		return v.String, nil
	}
	return "", e.notFound()
}

// object returns the remote object id, resolving it from the backend id
// when it is missing.
func (e *Element) object(ctx context.Context) (runtime.RemoteObjectID, error) {
	if e.IsNone() {
		return "", e.notFound()
	}
	e.mu.Lock()
	id := e.objectID
	e.mu.Unlock()
	if id != "" {
		return id, nil
	}
	ectx, err := e.p.executor(ctx)
	if err != nil {
		return "", err
	}
	obj, err := dom.ResolveNode().WithBackendNodeID(e.backendID).Do(ectx)
	if err != nil || obj == nil || obj.ObjectID == "" {
		if err = wrapErr(err); errors.Is(err, ErrPageDisconnected) {
			return "", err
		}
		return "", fmt.Errorf("%w: backend node %d", ErrElementLost, e.backendID)
	}
	e.mu.Lock()
	e.objectID = obj.ObjectID
	e.mu.Unlock()
	return obj.ObjectID, nil
}

func (e *Element) forget() {
	e.mu.Lock()
	e.objectID = ""
	e.mu.Unlock()
}

// callOn runs fn on the element, resolving the object again once if the
// page dropped it.
func (e *Element) callOn(ctx context.Context, fn string, args []interface{}, byValue bool) (*runtime.RemoteObject, error) {
	for attempt := 0; ; attempt++ {
		id, err := e.object(ctx)
		if err != nil {
			return nil, err
		}
		obj, err := e.p.callOn(ctx, id, fn, args, byValue)
		if attempt == 0 && (errors.Is(err, ErrElementLost) || errors.Is(err, ErrContextLost)) {
			e.forget()
			continue
		}
		return obj, err
	}
}

func (e *Element) callValue(ctx context.Context, fn string, args ...interface{}) (gjson.Result, error) {
	obj, err := e.callOn(ctx, fn, args, true)
	if err != nil || obj == nil || len(obj.Value) == 0 {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(obj.Value), nil
}

// RunJS calls script with the element as this. See Tab.RunJS for how
// script and args are treated.
func (e *Element) RunJS(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	obj, err := e.callOn(ctx, wrapFunc(script), args, false)
	if err != nil {
		return nil, err
	}
	return e.p.parseResult(ctx, obj)
}

func (e *Element) describe(ctx context.Context) (*cdp.Node, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	ectx, err := e.p.executor(ctx)
	if err != nil {
		return nil, err
	}
	node, err := dom.DescribeNode().WithBackendNodeID(e.backendID).Do(ectx)
	if err != nil {
		err = wrapErr(err)
		if errors.Is(err, ErrCDP) {
			return nil, fmt.Errorf("%w: %v", ErrElementLost, err)
		}
		return nil, err
	}
	return node, nil
}

// Tag returns the lower-case tag name.
func (e *Element) Tag(ctx context.Context) (string, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	e.mu.Lock()
	tag := e.tag
	e.mu.Unlock()
	if tag != "" {
		return tag, nil
	}
	node, err := e.describe(ctx)
	if err != nil {
		return "", err
	}
	tag = strings.ToLower(node.LocalName)
	e.mu.Lock()
	e.tag = tag
	e.mu.Unlock()
	return tag, nil
}

// HTML returns the outer HTML.
func (e *Element) HTML(ctx context.Context) (string, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	ectx, err := e.p.executor(ctx)
	if err != nil {
		return "", err
	}
	s, err := dom.GetOuterHTML().WithBackendNodeID(e.backendID).Do(ectx)
	return s, wrapErr(err)
}

// InnerHTML returns the inner HTML.
func (e *Element) InnerHTML(ctx context.Context) (string, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	res, err := e.callValue(ctx, propertyJS, "innerHTML")
	return res.String(), err
}

// Text returns the rendered text with whitespace normalized.
func (e *Element) Text(ctx context.Context) (string, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	res, err := e.callValue(ctx, textJS, false)
	return res.String(), err
}

// RawText returns innerText as is.
func (e *Element) RawText(ctx context.Context) (string, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	res, err := e.callValue(ctx, textJS, true)
	return res.String(), err
}

// Attrs returns every attribute.
func (e *Element) Attrs(ctx context.Context) (map[string]string, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	node, err := e.describe(ctx)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]string, len(node.Attributes)/2)
	for i := 0; i+1 < len(node.Attributes); i += 2 {
		attrs[node.Attributes[i]] = node.Attributes[i+1]
	}
	return attrs, nil
}

// Attr returns an attribute; ok is false when the element does not carry
// it. href and src are made absolute, text, innerText, html and innerHTML
// are computed.
func (e *Element) Attr(ctx context.Context, name string) (value string, ok bool, err error) {
	if e.IsNone() {
		v, err := e.noneValue()
		return v, err == nil, err
	}
	switch name {
	case "text":
		v, err := e.Text(ctx)
		return v, err == nil, err
	case "innerText":
		v, err := e.RawText(ctx)
		return v, err == nil, err
	case "html", "outerHTML":
		v, err := e.HTML(ctx)
		return v, err == nil, err
	case "innerHTML":
		v, err := e.InnerHTML(ctx)
		return v, err == nil, err
	}
	attrs, err := e.Attrs(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := attrs[name]
	if !ok {
		return "", false, nil
	}
	if name == "href" || name == "src" {
		v, err = e.absolute(ctx, v)
	}
	return v, true, err
}

// absolute resolves a link against the element's base URI.
func (e *Element) absolute(ctx context.Context, v string) (string, error) {
	lv := strings.ToLower(strings.TrimSpace(v))
	if v == "" || strings.HasPrefix(lv, "javascript:") || strings.HasPrefix(lv, "mailto:") {
		return v, nil
	}
	res, err := e.callValue(ctx, propertyJS, "baseURI")
	if err != nil {
		return "", err
	}
	base, err := url.Parse(res.String())
	if err != nil {
		return v, nil
	}
	ref, err := url.Parse(strings.TrimSpace(v))
	if err != nil {
		return v, nil
	}
	return base.ResolveReference(ref).String(), nil
}

// Link returns the absolute href, or src when there is no href.
func (e *Element) Link(ctx context.Context) (string, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	for _, name := range []string{"href", "src"} {
		v, ok, err := e.Attr(ctx, name)
		if err != nil || ok {
			return v, err
		}
	}
	return "", nil
}

// Property returns a javascript property of the element. Strings are HTML
// unescaped.
func (e *Element) Property(ctx context.Context, name string) (interface{}, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	res, err := e.callValue(ctx, propertyJS, name)
	if err != nil {
		return nil, err
	}
	if res.Type == gjson.String {
		return html.UnescapeString(res.String()), nil
	}
	return res.Value(), nil
}

// Style returns a computed style value, optionally of a pseudo element
// such as "::after".
func (e *Element) Style(ctx context.Context, name, pseudo string) (string, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	res, err := e.callValue(ctx, styleJS, name, pseudo)
	return res.String(), err
}

// Value returns the value property.
func (e *Element) Value(ctx context.Context) (string, error) {
	if e.IsNone() {
		return e.noneValue()
	}
	res, err := e.callValue(ctx, propertyJS, "value")
	return res.String(), err
}

// IsAlive reports whether the element is still attached to a document.
func (e *Element) IsAlive(ctx context.Context) bool {
	if e.IsNone() {
		return false
	}
	res, err := e.callValue(ctx, "function(){return this.isConnected}")
	return err == nil && res.Bool()
}

// Axis is a direction for relative lookups.
type Axis int

// Axes.
const (
	AxisParent Axis = iota
	AxisChild
	AxisNext
	AxisPrev
	AxisAfter
	AxisBefore
)

var axisNames = [...]string{"parent", "child", "next", "prev", "after", "before"}

// String satisfies fmt.Stringer.
func (a Axis) String() string {
	if int(a) < len(axisNames) {
		return axisNames[a]
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// xpath returns the XPath axis expression and whether results come in
// reverse document order, nearest first.
func (a Axis) xpath(eleOnly bool) (string, bool) {
	test := "*"
	if !eleOnly {
		test = "node()"
	}
	switch a {
	case AxisParent:
		return "./ancestor::*", true
	case AxisChild:
		return "./" + test, false
	case AxisNext:
		return "./following-sibling::" + test, false
	case AxisPrev:
		return "./preceding-sibling::" + test, true
	case AxisAfter:
		return "./following::" + test, false
	case AxisBefore:
		return "./preceding::" + test, true
	}
	return "./" + test, false
}

// Relatives lists the nodes along axis, nearest first, keeping those that
// match filter when it is not nil. Filters must be XPath based; text nodes
// are included unless eleOnly is set.
func (e *Element) Relatives(ctx context.Context, axis Axis, filter interface{}, eleOnly bool) ([]FindResult, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	var expr string
	if filter != nil {
		loc, err := locator.From(filter)
		if err != nil {
			return nil, err
		}
		if loc.Kind == locator.CSS {
			return nil, fmt.Errorf("%w: css locators can not filter relative lookups", ErrInvalidArgument)
		}
		expr = loc.Value
	}
	path, reverse := axis.xpath(eleOnly)
	obj, err := e.callOn(ctx, relativesJS, []interface{}{path, expr, reverse}, false)
	if err != nil {
		return nil, err
	}
	v, err := e.p.parseResult(ctx, obj)
	if err != nil {
		return nil, err
	}
	return findResults(v)
}

// relative picks the index-th (1-based) element along axis.
func (e *Element) relative(ctx context.Context, axis Axis, filter interface{}, index int) (*Element, error) {
	if index == 0 {
		index = 1
	}
	rs, err := e.Relatives(ctx, axis, filter, true)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("%v %v[%d]", axis, filter, index)
	r, ok := pick(rs, index)
	if !ok {
		return e.p.notFound(q)
	}
	if r.Ele == nil {
		return nil, ErrNotElement
	}
	return r.Ele, nil
}

func (e *Element) relativesEles(ctx context.Context, axis Axis, filter interface{}) ([]*Element, error) {
	rs, err := e.Relatives(ctx, axis, filter, true)
	if err != nil {
		return nil, err
	}
	return elementsOf(rs), nil
}

// Parent returns the level-th ancestor for an int, or the nearest ancestor
// matching a locator.
func (e *Element) Parent(ctx context.Context, levelOrLoc interface{}) (*Element, error) {
	switch v := levelOrLoc.(type) {
	case nil:
		return e.relative(ctx, AxisParent, nil, 1)
	case int:
		return e.relative(ctx, AxisParent, nil, v)
	}
	return e.relative(ctx, AxisParent, levelOrLoc, 1)
}

// Child returns the index-th child element matching filter.
func (e *Element) Child(ctx context.Context, filter interface{}, index int) (*Element, error) {
	return e.relative(ctx, AxisChild, filter, index)
}

// Children returns the child elements matching filter.
func (e *Element) Children(ctx context.Context, filter interface{}) ([]*Element, error) {
	return e.relativesEles(ctx, AxisChild, filter)
}

// Next returns the index-th following sibling matching filter.
func (e *Element) Next(ctx context.Context, filter interface{}, index int) (*Element, error) {
	return e.relative(ctx, AxisNext, filter, index)
}

// Nexts returns the following siblings matching filter.
func (e *Element) Nexts(ctx context.Context, filter interface{}) ([]*Element, error) {
	return e.relativesEles(ctx, AxisNext, filter)
}

// Prev returns the index-th preceding sibling matching filter, nearest
// first.
func (e *Element) Prev(ctx context.Context, filter interface{}, index int) (*Element, error) {
	return e.relative(ctx, AxisPrev, filter, index)
}

// Prevs returns the preceding siblings matching filter, nearest first.
func (e *Element) Prevs(ctx context.Context, filter interface{}) ([]*Element, error) {
	return e.relativesEles(ctx, AxisPrev, filter)
}

// After returns the index-th element after this one in document order.
func (e *Element) After(ctx context.Context, filter interface{}, index int) (*Element, error) {
	return e.relative(ctx, AxisAfter, filter, index)
}

// Afters returns the elements after this one in document order.
func (e *Element) Afters(ctx context.Context, filter interface{}) ([]*Element, error) {
	return e.relativesEles(ctx, AxisAfter, filter)
}

// Before returns the index-th element before this one, nearest first.
func (e *Element) Before(ctx context.Context, filter interface{}, index int) (*Element, error) {
	return e.relative(ctx, AxisBefore, filter, index)
}

// Befores returns the elements before this one, nearest first.
func (e *Element) Befores(ctx context.Context, filter interface{}) ([]*Element, error) {
	return e.relativesEles(ctx, AxisBefore, filter)
}

// ShadowRoot returns the shadow root hosted by the element, open or closed.
func (e *Element) ShadowRoot(ctx context.Context) (*ShadowRoot, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	ectx, err := e.p.executor(ctx)
	if err != nil {
		return nil, err
	}
	node, err := dom.DescribeNode().WithBackendNodeID(e.backendID).WithDepth(1).WithPierce(true).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(node.ShadowRoots) == 0 {
		return nil, fmt.Errorf("%w: no shadow root", ErrElementNotFound)
	}
	return newShadowRoot(ctx, e.p, e, node.ShadowRoots[0].BackendNodeID)
}

// Frame returns the document of an iframe or frame element.
func (e *Element) Frame(ctx context.Context) (*Frame, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	tag, err := e.Tag(ctx)
	if err != nil {
		return nil, err
	}
	if tag != "iframe" && tag != "frame" {
		return nil, fmt.Errorf("%w: <%s> is not a frame element", ErrInvalidArgument, tag)
	}
	return newFrame(ctx, e.p.owner, e)
}

// Set returns the element setter.
func (e *Element) Set() *ElementSetter {
	return &ElementSetter{e: e}
}

// Wait returns the element waiter.
func (e *Element) Wait() *ElementWaiter {
	return &ElementWaiter{e: e}
}

// States returns the element state queries.
func (e *Element) States() *ElementStates {
	return &ElementStates{e: e}
}

// Rect returns the element geometry.
func (e *Element) Rect() *ElementRect {
	return &ElementRect{e: e}
}
