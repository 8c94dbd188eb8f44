package drission

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chromedp/cdproto/runtime"

	"github.com/chromedp/drission/internal/cdptest"
)

const testEleBackend = 110

// fakeDOM answers the element scripts for a single text input.
type fakeDOM struct {
	mu      sync.Mutex
	props   map[string]interface{}
	covered bool
	values  []string
}

func (d *fakeDOM) setCovered(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.covered = v
}

func byValue(v interface{}) (interface{}, error) {
	if v == nil {
		return map[string]interface{}{"result": map[string]string{"type": "object", "subtype": "null"}}, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	typ := "object"
	switch v.(type) {
	case string:
		typ = "string"
	case bool:
		typ = "boolean"
	case float64, int:
		typ = "number"
	}
	return map[string]interface{}{"result": map[string]interface{}{"type": typ, "value": json.RawMessage(buf)}}, nil
}

func (f *fixture) handleElement(d *fakeDOM) {
	f.srv.Handle("DOM.describeNode", func(req *cdptest.Request) (interface{}, error) {
		return map[string]interface{}{"node": map[string]interface{}{
			"nodeId": 0, "backendNodeId": req.Get("backendNodeId").Int(), "nodeType": 1,
			"nodeName": "INPUT", "localName": "input", "nodeValue": "",
			"attributes": []string{"type", "text", "href", "../next.html", "data-x", "1"},
		}}, nil
	})
	f.srv.Handle("DOM.getNodeForLocation", func(*cdptest.Request) (interface{}, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		backend := testEleBackend
		if d.covered {
			backend = 999
		}
		return map[string]interface{}{"backendNodeId": backend, "frameId": f.tab.ID()}, nil
	})
	f.srv.Handle("Runtime.callFunctionOn", func(req *cdptest.Request) (interface{}, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		switch req.Get("functionDeclaration").String() {
		case propertyJS:
			return byValue(d.props[req.Get("arguments.0.value").String()])
		case rectJS:
			return byValue(map[string]float64{"x": 10, "y": 20, "width": 100, "height": 40, "innerWidth": 800, "innerHeight": 600})
		case statesJS:
			return byValue(map[string]bool{"displayed": true, "enabled": true})
		case containsJS:
			return byValue(false)
		case clickJS:
			return byValue(true)
		case setValueJS:
			d.values = append(d.values, req.Get("arguments.0.value").String())
			return byValue(nil)
		}
		return map[string]interface{}{"result": map[string]string{"type": "undefined"}}, nil
	})
}

func (f *fixture) testElement() *Element {
	return newElement(f.tab.page, testEleBackend, runtime.RemoteObjectID(cdptest.ObjectID(testEleBackend)), "input")
}

func TestElementAttr(t *testing.T) {
	f := newFixture(t)
	f.handleElement(&fakeDOM{props: map[string]interface{}{"baseURI": "https://a.test/dir/page.html"}})
	ctx := testContext(t)
	e := f.testElement()

	v, ok, err := e.Attr(ctx, "data-x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok, err = e.Attr(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = e.Attr(ctx, "href")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://a.test/next.html", v)
	link, err := e.Link(ctx)
	require.NoError(t, err)
	assert.Equal(t, v, link)

	attrs, err := e.Attrs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"type": "text", "href": "../next.html", "data-x": "1"}, attrs)
}

func TestElementProperty(t *testing.T) {
	f := newFixture(t)
	f.handleElement(&fakeDOM{props: map[string]interface{}{
		"title":   "a &amp; b",
		"checked": true,
		"size":    20,
		"dataset": map[string]string{"x": "1"},
	}})
	ctx := testContext(t)
	e := f.testElement()

	for _, test := range []struct {
		name string
		want interface{}
	}{
		{"title", "a & b"},
		{"checked", true},
		{"size", float64(20)},
		{"dataset", map[string]interface{}{"x": "1"}},
		{"missing", nil},
	} {
		got, err := e.Property(ctx, test.name)
		require.NoError(t, err, test.name)
		assert.Equal(t, test.want, got, test.name)
	}
}

func TestElementClick(t *testing.T) {
	f := newFixture(t)
	d := &fakeDOM{}
	f.handleElement(d)
	ctx := testContext(t)
	e := f.testElement()

	ok, err := e.Click(ctx, WaitStop(false))
	require.NoError(t, err)
	assert.True(t, ok)
	mouse := f.srv.Calls("Input.dispatchMouseEvent")
	require.Len(t, mouse, 3)
	assert.Equal(t, "mouseMoved", mouse[0].Get("type").String())
	assert.Equal(t, "mousePressed", mouse[1].Get("type").String())
	assert.Equal(t, "left", mouse[1].Get("button").String())
	assert.Equal(t, float64(60), mouse[1].Get("x").Float())
	assert.Equal(t, float64(40), mouse[1].Get("y").Float())
	assert.Equal(t, "mouseReleased", mouse[2].Get("type").String())

	// a covered element is clicked by script
	d.setCovered(true)
	ok, err = e.Click(ctx, WaitStop(false), ClickTimeout(150*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, f.srv.Calls("Input.dispatchMouseEvent"), 3)

	// unless the script fallback is ruled out
	ok, err = e.Click(ctx, WaitStop(false), ClickTimeout(150*time.Millisecond), ByJS(false))
	require.NoError(t, err)
	assert.False(t, ok)
	f.b.Settings().SetRaiseWhenClickFailed(true)
	_, err = e.Click(ctx, WaitStop(false), ClickTimeout(150*time.Millisecond), ByJS(false))
	assert.ErrorIs(t, err, ErrCanNotClick)
}

func TestElementInput(t *testing.T) {
	f := newFixture(t)
	d := &fakeDOM{props: map[string]interface{}{"value": "old"}}
	f.handleElement(d)
	ctx := testContext(t)
	e := f.testElement()

	require.NoError(t, e.Input(ctx, "ab\ncd", false, false))
	var inserted []string
	for _, c := range f.srv.Calls("Input.insertText") {
		inserted = append(inserted, c.Get("text").String())
	}
	assert.Equal(t, []string{"ab", "cd"}, inserted)
	keys := f.srv.Calls("Input.dispatchKeyEvent")
	require.NotEmpty(t, keys)
	assert.Equal(t, "Enter", keys[0].Get("key").String())
	n := len(keys)

	require.NoError(t, e.Input(ctx, "x", true, false))
	keys = f.srv.Calls("Input.dispatchKeyEvent")
	require.Greater(t, len(keys), n)
	assert.Equal(t, "Backspace", keys[n].Get("key").String())

	require.NoError(t, e.Input(ctx, "new", false, true))
	require.NoError(t, e.Input(ctx, "set", true, true))
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, []string{"oldnew", "set"}, d.values)
}
