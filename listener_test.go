package drission

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chromedp/drission/internal/cdptest"
)

func TestListenFilter(t *testing.T) {
	l := &Listener{}
	require.NoError(t, l.SetTargets([]string{"/api/", "cdn"}))
	f := l.filter

	target, ok := f.match("https://x.com/api/items", "get", "XHR")
	assert.True(t, ok)
	assert.Equal(t, "/api/", target)
	target, ok = f.match("https://cdn.x.com/a.js", "GET", "Script")
	assert.True(t, ok)
	assert.Equal(t, "cdn", target)
	_, ok = f.match("https://x.com/other", "GET", "XHR")
	assert.False(t, ok)
	_, ok = f.match("https://x.com/api/items", "OPTIONS", "Preflight")
	assert.False(t, ok)

	require.NoError(t, l.SetTargets([]string{`/items/\d+$`}, ListenRegex(true), ListenMethods("put"), ListenResourceTypes("Fetch")))
	f = l.filter
	_, ok = f.match("https://x.com/items/12", "PUT", "Fetch")
	assert.True(t, ok)
	_, ok = f.match("https://x.com/items/12", "PUT", "XHR")
	assert.False(t, ok)
	_, ok = f.match("https://x.com/items/ab", "PUT", "Fetch")
	assert.False(t, ok)

	require.NoError(t, l.SetTargets(nil))
	target, ok = l.filter.match("https://any.where/", "POST", "Document")
	assert.True(t, ok)
	assert.Empty(t, target)

	assert.ErrorIs(t, l.SetTargets([]string{"("}, ListenRegex(true)), ErrInvalidArgument)
}

func (f *fixture) emitExchange(id, url, method string, status int) {
	tab := f.tab.ID()
	f.srv.Emit(tab, "Network.requestWillBeSent", map[string]interface{}{
		"requestId": id,
		"frameId":   tab,
		"type":      "XHR",
		"request":   map[string]interface{}{"url": url, "method": method, "headers": map[string]string{"Accept": "*/*"}},
	})
	f.srv.Emit(tab, "Network.requestWillBeSentExtraInfo", map[string]interface{}{
		"requestId": id,
		"headers":   map[string]string{"Cookie": "sid=1"},
	})
	f.srv.Emit(tab, "Network.responseReceived", map[string]interface{}{
		"requestId": id,
		"type":      "XHR",
		"response":  map[string]interface{}{"url": url, "status": status, "statusText": "OK", "mimeType": "application/json", "headers": map[string]string{}},
	})
	f.srv.Emit(tab, "Network.responseReceivedExtraInfo", map[string]interface{}{
		"requestId": id,
		"headers":   map[string]string{"Set-Cookie": "sid=2"},
	})
	f.srv.Emit(tab, "Network.loadingFinished", map[string]interface{}{"requestId": id})
}

func TestListener(t *testing.T) {
	f := newFixture(t)
	f.srv.Handle("Network.getResponseBody", func(req *cdptest.Request) (interface{}, error) {
		body := `{"id":` + req.Get("requestId").String() + `}`
		return map[string]interface{}{"body": base64.StdEncoding.EncodeToString([]byte(body)), "base64Encoded": true}, nil
	})
	ctx := testContext(t)

	l := f.tab.Listen()
	_, err := l.Wait(ctx, 1, time.Millisecond, false)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, l.Start(ctx, []string{"/api/"}))
	assert.True(t, l.Listening())
	f.srv.WaitCall("Network.enable", 1, time.Second)

	f.emitExchange("1", "https://x.com/api/a", "GET", 200)
	f.emitExchange("2", "https://x.com/static/b.css", "GET", 200)
	f.emitExchange("3", "https://x.com/api/c", "POST", 201)

	packets, err := l.Wait(ctx, 2, 2*time.Second, true)
	require.NoError(t, err)
	require.Len(t, packets, 2)

	p := packets[0]
	assert.Equal(t, "https://x.com/api/a", p.URL())
	assert.Equal(t, "GET", p.Method())
	assert.Equal(t, "/api/", p.Target)
	assert.Equal(t, "XHR", p.ResourceType)
	assert.Equal(t, f.tab.ID(), p.TabID)
	assert.False(t, p.IsFailed())
	assert.Equal(t, "sid=1", p.Request.ExtraHeaders["Cookie"])
	assert.Equal(t, "sid=2", p.Response.ExtraHeaders["Set-Cookie"])
	require.NotNil(t, p.Response)
	assert.Equal(t, 200, p.Response.Status)
	assert.True(t, p.Response.Base64Body)
	assert.Equal(t, int64(1), p.Response.JSON().Get("id").Int())

	assert.Equal(t, "POST", packets[1].Method())
	assert.Equal(t, 201, packets[1].Response.Status)

	ok, err := l.WaitSilent(ctx, false, 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	l.Stop()
	assert.False(t, l.Listening())
}

func TestListenerFailedAndPaused(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	tab := f.tab.ID()

	l := f.tab.Listen()
	require.NoError(t, l.Start(ctx, nil))

	l.Pause(true)
	f.emitExchange("1", "https://x.com/a", "GET", 200)
	require.Eventually(t, func() bool {
		n, _ := l.Running()
		return n == 0 && len(f.srv.Calls("Network.getResponseBody")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	l.Resume()

	f.srv.Emit(tab, "Network.requestWillBeSent", map[string]interface{}{
		"requestId": "2",
		"type":      "Image",
		"request":   map[string]interface{}{"url": "https://x.com/blocked.png", "method": "GET"},
	})
	f.srv.Emit(tab, "Network.loadingFailed", map[string]interface{}{
		"requestId":     "2",
		"type":          "Image",
		"errorText":     "net::ERR_BLOCKED_BY_CLIENT",
		"blockedReason": "inspector",
	})

	packets, err := l.Wait(ctx, 1, 2*time.Second, false)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	p := packets[0]
	assert.Equal(t, "https://x.com/blocked.png", p.URL())
	require.True(t, p.IsFailed())
	assert.Equal(t, "net::ERR_BLOCKED_BY_CLIENT", p.FailInfo.ErrorText)
	assert.Equal(t, "inspector", p.FailInfo.BlockedReason)
	assert.Nil(t, p.Response)

	packets, err = l.Wait(ctx, 1, 20*time.Millisecond, false)
	require.NoError(t, err)
	assert.Empty(t, packets)
}

func TestListenerLateExtraInfo(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	tab := f.tab.ID()

	l := f.tab.Listen()
	require.NoError(t, l.Start(ctx, nil))

	exchange := func(id string, hasExtra interface{}) {
		f.srv.Emit(tab, "Network.requestWillBeSent", map[string]interface{}{
			"requestId": id,
			"type":      "Document",
			"request":   map[string]interface{}{"url": "https://x.com/" + id, "method": "GET"},
		})
		resp := map[string]interface{}{
			"requestId": id,
			"type":      "Document",
			"response":  map[string]interface{}{"url": "https://x.com/" + id, "status": 200, "headers": map[string]string{}},
		}
		if hasExtra != nil {
			resp["hasExtraInfo"] = hasExtra
		}
		f.srv.Emit(tab, "Network.responseReceived", resp)
		f.srv.Emit(tab, "Network.loadingFinished", map[string]interface{}{"requestId": id})
	}

	// extra info after loadingFinished is joined before publication
	exchange("late", true)
	packets, err := l.Wait(ctx, 1, 100*time.Millisecond, false)
	require.NoError(t, err)
	assert.Empty(t, packets)
	f.srv.Emit(tab, "Network.responseReceivedExtraInfo", map[string]interface{}{
		"requestId": "late",
		"headers":   map[string]string{"Set-Cookie": "a=1"},
	})
	packets, err = l.Wait(ctx, 1, 2*time.Second, false)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.NotNil(t, packets[0].Response)
	assert.Equal(t, "a=1", packets[0].Response.ExtraHeaders["Set-Cookie"])

	// no extra info ever comes: published after a bounded wait
	start := time.Now()
	exchange("never", nil)
	packets, err = l.Wait(ctx, 1, 2*time.Second, false)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, "https://x.com/never", packets[0].URL())
	assert.Nil(t, packets[0].Response.ExtraHeaders)
	assert.GreaterOrEqual(t, time.Since(start), extraInfoWait)

	// the browser tells there is none: published right away
	exchange("none", false)
	packets, err = l.Wait(ctx, 1, extraInfoWait/2, false)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, "https://x.com/none", packets[0].URL())

	l.mu.Lock()
	assert.Empty(t, l.extra)
	assert.Empty(t, l.held)
	assert.Empty(t, l.packets)
	l.mu.Unlock()
}
