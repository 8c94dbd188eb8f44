package driver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chromedp/drission/internal/cdptest"
)

func TestForceIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"ws://[::1]:9222/devtools/browser/abc", "ws://[::1]:9222/devtools/browser/abc"},
		{"ws://127.0.0.1:9222/devtools/page/X", "ws://127.0.0.1:9222/devtools/page/X"},
		{"not a url", "not a url"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, ForceIP(test.in), test.in)
	}
}

func TestDialRoundTrip(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	id := srv.FirstTarget()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := Dial(ctx, fmt.Sprintf("ws://%s/devtools/page/%s", srv.Addr(), id))
	require.NoError(t, err)
	defer func() {
		d.Stop()
		d.Wait()
	}()
	assert.Equal(t, id, d.ID())

	res, err := d.Call(ctx, "DOM.getDocument", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(cdptest.DocumentBackendID), res.Get("root.backendNodeId").Int())

	srv.Handle("DOM.focus", func(*cdptest.Request) (interface{}, error) {
		return nil, &cdptest.Error{Code: -32000, Message: "Element is not focusable"}
	})
	_, err = d.Call(ctx, "DOM.focus", map[string]int{"backendNodeId": 5})
	assert.True(t, IsKind(err, KindCallMethod))

	got := make(chan string, 1)
	d.SetCallback("Page.frameNavigated", func(ev *Event) {
		got <- ev.Get("frame.url").String()
	}, false)
	srv.Emit(id, "Page.frameNavigated", map[string]interface{}{"frame": map[string]string{"id": id, "url": "https://example.com/"}})
	select {
	case u := <-got:
		assert.Equal(t, "https://example.com/", u)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestServerCloseStopsDriver(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	id := srv.FirstTarget()
	d, err := Dial(context.Background(), fmt.Sprintf("ws://%s/devtools/page/%s", srv.Addr(), id))
	require.NoError(t, err)
	defer d.Wait()

	srv.RemoveTarget(id)
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestConnClose(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	id := srv.FirstTarget()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := DialContext(ctx, fmt.Sprintf("ws://%s/devtools/page/%s", srv.Addr(), id))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Connections(id) == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), closeTimeout)
	// the peer sees the close frame and drops its side
	require.Eventually(t, func() bool { return srv.Connections(id) == 0 }, 2*time.Second, 5*time.Millisecond)
}
