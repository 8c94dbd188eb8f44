package drission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetterNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	s := f.tab.Set()

	require.NoError(t, s.Headers(ctx, map[string]string{"X-Test": "1"}))
	h := f.srv.Calls("Network.setExtraHTTPHeaders")
	require.Len(t, h, 1)
	assert.Equal(t, "1", h[0].Get("headers.X-Test").String())

	require.NoError(t, s.BlockedURLs(ctx, "*.png", "*ads*"))
	require.NoError(t, s.BlockedURLs(ctx))
	blocked := f.srv.Calls("Network.setBlockedURLs")
	require.Len(t, blocked, 2)
	assert.Len(t, blocked[0].Get("urls").Array(), 2)
	assert.True(t, blocked[1].Get("urls").IsArray())
	assert.Empty(t, blocked[1].Get("urls").Array())
	assert.Len(t, f.srv.Calls("Network.enable"), 3)

	require.NoError(t, s.UserAgent(ctx, "test-agent", "Linux"))
	ua := f.srv.Calls("Emulation.setUserAgentOverride")
	require.Len(t, ua, 1)
	assert.Equal(t, "test-agent", ua[0].Get("userAgent").String())
	assert.Equal(t, "Linux", ua[0].Get("platform").String())

	require.NoError(t, s.CacheDisabled(ctx, true))
	c := f.srv.Calls("Network.setCacheDisabled")
	require.Len(t, c, 1)
	assert.True(t, c[0].Get("cacheDisabled").Bool())
}

func TestSetterConfig(t *testing.T) {
	f := newFixture(t)
	s := f.tab.Set()

	s.LoadMode(LoadEager)
	assert.Equal(t, LoadEager, f.tab.LoadMode())

	before := f.tab.Timeouts()
	s.Timeouts(Timeouts{Script: 7 * time.Second})
	got := f.tab.Timeouts()
	assert.Equal(t, 7*time.Second, got.Script)
	assert.Equal(t, before.Base, got.Base)
	assert.Equal(t, before.PageLoad, got.PageLoad)
}
