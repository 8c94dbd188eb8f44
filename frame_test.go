package drission

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chromedp/cdproto/runtime"

	"github.com/chromedp/drission/internal/cdptest"
)

const (
	testFrameID      = "F1"
	testFrameBackend = 50
)

// handleFrame serves an iframe element whose frame is part of the tab's
// frame tree while sameOrigin is set.
func (f *fixture) handleFrame(sameOrigin *atomic.Bool) {
	f.srv.Handle("DOM.describeNode", func(req *cdptest.Request) (interface{}, error) {
		return map[string]interface{}{"node": map[string]interface{}{
			"nodeId":        0,
			"backendNodeId": req.Get("backendNodeId").Int(),
			"nodeType":      1,
			"nodeName":      "IFRAME",
			"localName":     "iframe",
			"nodeValue":     "",
			"frameId":       testFrameID,
			"contentDocument": map[string]interface{}{
				"nodeId":        0,
				"backendNodeId": 60,
				"nodeType":      9,
				"nodeName":      "#document",
				"localName":     "",
				"nodeValue":     "",
			},
		}}, nil
	})
	f.srv.Handle("Page.getFrameTree", func(req *cdptest.Request) (interface{}, error) {
		root := map[string]interface{}{
			"frame": map[string]interface{}{"id": req.TargetID, "loaderId": "L1", "url": "https://a.test/", "securityOrigin": "", "mimeType": "text/html"},
		}
		if req.TargetID == f.tab.ID() && sameOrigin.Load() {
			root["childFrames"] = []interface{}{map[string]interface{}{
				"frame": map[string]interface{}{"id": testFrameID, "parentId": req.TargetID, "loaderId": "L1", "url": "https://a.test/inner", "securityOrigin": "", "mimeType": "text/html"},
			}}
		}
		return map[string]interface{}{"frameTree": root}, nil
	})
}

func TestFrameSameOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	var same atomic.Bool
	same.Store(true)
	f.handleFrame(&same)
	tab := f.tab.ID()
	conns := f.srv.Connections(tab)

	ele := newElement(f.tab.page, testFrameBackend, runtime.RemoteObjectID(cdptest.ObjectID(testFrameBackend)), "iframe")
	fr, err := ele.Frame(ctx)
	require.NoError(t, err)
	defer fr.Close()

	assert.False(t, fr.IsCrossOrigin())
	assert.Equal(t, testFrameID, fr.FrameID())
	assert.Same(t, ele, fr.FrameElement())
	assert.Same(t, f.tab.rawDriver(), fr.rawDriver())
	assert.Equal(t, conns, f.srv.Connections(tab))
	owner, ok := f.b.FrameTab(testFrameID)
	require.True(t, ok)
	assert.Equal(t, tab, owner)

	// frame load events arrive on the tab connection
	f.srv.Emit(tab, "Page.frameStartedLoading", map[string]string{"frameId": testFrameID})
	require.Eventually(t, func() bool {
		return fr.ReadyState() == StateConnecting
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateComplete, f.tab.ReadyState())
	f.srv.Emit(tab, "Page.frameStoppedLoading", map[string]string{"frameId": testFrameID})
	require.Eventually(t, func() bool {
		return fr.ReadyState() == StateComplete
	}, time.Second, 5*time.Millisecond)

	fr.Close()
	_, err = f.tab.call(ctx, "DOM.getDocument", nil)
	require.NoError(t, err)
	assert.Nil(t, f.tab.kid(testFrameID))
}

func TestFrameSwap(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	var same atomic.Bool
	same.Store(true)
	f.handleFrame(&same)
	tab := f.tab.ID()

	ele := newElement(f.tab.page, testFrameBackend, runtime.RemoteObjectID(cdptest.ObjectID(testFrameBackend)), "iframe")
	fr, err := ele.Frame(ctx)
	require.NoError(t, err)
	defer fr.Close()
	require.False(t, fr.IsCrossOrigin())

	// the frame navigates cross-origin and moves into a target of its own
	f.srv.AddTarget(cdptest.Target{ID: testFrameID, Type: "iframe", URL: "https://b.test/"})
	same.Store(false)
	f.srv.Emit(tab, "Page.frameDetached", map[string]string{"frameId": testFrameID, "reason": "swap"})
	require.Eventually(t, func() bool {
		return fr.IsCrossOrigin() && f.srv.Connections(testFrameID) == 1
	}, 2*time.Second, 5*time.Millisecond)
	// blocks until the frame has read its new document
	_, err = fr.driver(ctx)
	require.NoError(t, err)

	n := len(f.srv.Calls("DOM.getDocument"))
	_, err = fr.call(ctx, "DOM.getDocument", nil)
	require.NoError(t, err)
	calls := f.srv.Calls("DOM.getDocument")
	require.Len(t, calls, n+1)
	assert.Equal(t, testFrameID, calls[n].TargetID)
	owner, ok := f.b.FrameTab(testFrameID)
	require.True(t, ok)
	assert.Equal(t, tab, owner)

	// and back into the tab's process
	same.Store(true)
	f.srv.Emit(testFrameID, "Inspector.detached", map[string]string{"reason": "target_closed"})
	require.Eventually(t, func() bool {
		return !fr.IsCrossOrigin() && f.srv.Connections(testFrameID) == 0
	}, 2*time.Second, 5*time.Millisecond)
	_, err = fr.driver(ctx)
	require.NoError(t, err)
	assert.Same(t, f.tab.rawDriver(), fr.rawDriver())
	assert.Same(t, fr.page, f.tab.kid(testFrameID))
}
