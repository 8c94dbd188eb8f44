package drission

import (
	"testing"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chromedp/drission/internal/cdptest"
)

func TestNormalizeURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/srv/page.html", []byte("<p>"), 0o644))
	p := &page{b: &Browser{fs: fs}}

	tests := []struct {
		in, want string
	}{
		{"https://example.com/a?b=c", "https://example.com/a?b=c"},
		{"example.com", "http://example.com"},
		{"  example.com/path  ", "http://example.com/path"},
		{"https://example.com/a b", "https://example.com/a%20b"},
		{"about:blank", "about:blank"},
		{"data:text/html,<p>hi</p>", "data:text/html,<p>hi</p>"},
		{"/srv/page.html", "file:///srv/page.html"},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			got, err := p.normalizeURL(test.in)
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}

	_, err := p.normalizeURL("   ")
	assert.ErrorIs(t, err, ErrWrongURL)
}

func TestHistoryIndex(t *testing.T) {
	entries := func(urls ...string) []*cdppage.NavigationEntry {
		var out []*cdppage.NavigationEntry
		for i, u := range urls {
			out = append(out, &cdppage.NavigationEntry{ID: int64(i + 1), URL: u})
		}
		return out
	}
	abbc := entries("a", "b", "b", "c")

	tests := []struct {
		name    string
		entries []*cdppage.NavigationEntry
		cur     int
		steps   int
		want    int
	}{
		{"back one", abbc, 3, -1, 2},
		{"back over duplicates", abbc, 3, -2, 0},
		{"forward one", abbc, 0, 1, 1},
		{"forward over duplicates", abbc, 1, 1, 3},
		{"before start", abbc, 0, -1, 0},
		{"past end", abbc, 3, 5, 3},
		{"only duplicates", entries("a", "a"), 1, -1, 1},
		{"bad current", abbc, 9, -1, 9},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, historyIndex(test.entries, test.cur, test.steps))
		})
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	f.handleNavigation()
	ctx := testContext(t)

	ok, err := f.tab.Get(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateComplete, f.tab.ReadyState())

	u, err := f.tab.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", u)

	calls := f.srv.Calls("Page.navigate")
	require.Len(t, calls, 1)
	assert.Equal(t, "https://example.com/", calls[0].Get("url").String())
}

func TestGetRetries(t *testing.T) {
	f := newFixture(t)
	f.srv.Handle("Page.navigate", func(req *cdptest.Request) (interface{}, error) {
		return map[string]string{"frameId": req.TargetID, "errorText": "net::ERR_NAME_NOT_RESOLVED"}, nil
	})
	ctx := testContext(t)

	ok, err := f.tab.Get(ctx, "https://nowhere.invalid", GetRetry(2, 10*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, f.srv.Calls("Page.navigate"), 3)

	ok, err = f.tab.Get(ctx, "https://nowhere.invalid", GetRetry(0, 0), ShowErrMsg(true))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrContextLost)
}

func TestGetWrongURL(t *testing.T) {
	f := newFixture(t)
	f.srv.Handle("Page.navigate", func(req *cdptest.Request) (interface{}, error) {
		return map[string]string{"frameId": req.TargetID, "errorText": "net::ERR_INVALID_URL"}, nil
	})
	ctx := testContext(t)

	ok, err := f.tab.Get(ctx, "http://[::1", GetRetry(3, 10*time.Millisecond))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrWrongURL)
	assert.LessOrEqual(t, len(f.srv.Calls("Page.navigate")), 1)
}

func TestStaleLoadIgnored(t *testing.T) {
	f := newFixture(t)
	id := f.tab.targetID
	f.srv.Handle("Page.getFrameTree", func(req *cdptest.Request) (interface{}, error) {
		time.Sleep(400 * time.Millisecond)
		return map[string]interface{}{"frameTree": map[string]interface{}{
			"frame": map[string]interface{}{"id": req.TargetID, "loaderId": "L1", "url": "about:blank", "securityOrigin": "", "mimeType": "text/html"},
		}}, nil
	})

	f.srv.Emit(id, "Page.frameStartedLoading", map[string]string{"frameId": id})
	f.srv.Emit(id, "Page.frameStoppedLoading", map[string]string{"frameId": id})
	f.srv.WaitCall("Page.getFrameTree", 2, time.Second)
	f.srv.Emit(id, "Page.frameStartedLoading", map[string]string{"frameId": id})
	require.Eventually(t, func() bool {
		return f.tab.seq() >= 2 && f.tab.ReadyState() == StateConnecting
	}, time.Second, 10*time.Millisecond)

	// the re-read of the first load ends after the second load started
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, StateConnecting, f.tab.ReadyState())
	f.tab.mu.Lock()
	assert.Nil(t, f.tab.doc)
	f.tab.mu.Unlock()
}

func TestEagerLoad(t *testing.T) {
	f := newFixture(t, WithLoadMode(LoadEager))
	f.srv.Handle("Page.navigate", func(req *cdptest.Request) (interface{}, error) {
		u := req.Get("url").String()
		f.srv.SetTargetURL(req.TargetID, u)
		req.Then(func() {
			req.Conn.Emit("Page.frameStartedLoading", map[string]string{"frameId": req.TargetID})
			req.Conn.Emit("Page.frameNavigated", map[string]interface{}{
				"frame": map[string]string{"id": req.TargetID, "loaderId": "L2", "url": u},
			})
			req.Conn.Emit("Page.domContentEventFired", map[string]float64{"timestamp": 1})
		})
		return map[string]string{"frameId": req.TargetID, "loaderId": "L2"}, nil
	})
	ctx := testContext(t)

	ok, err := f.tab.Get(ctx, "https://example.com/slow")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, f.tab.ReadyState().rank(), StateInteractive.rank())

	f.srv.WaitCall("Page.stopLoading", 1, time.Second)
	require.Eventually(t, func() bool {
		return f.tab.ReadyState() == StateComplete
	}, time.Second, 10*time.Millisecond)

	// a late DOMContentLoaded of the same navigation does not stop twice
	f.srv.Emit(f.tab.targetID, "Page.domContentEventFired", map[string]float64{"timestamp": 2})
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, f.srv.Calls("Page.stopLoading"), 1)
}
