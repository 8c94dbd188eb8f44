package drission

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/chromedp/drission/internal/cdptest"
	"github.com/chromedp/drission/session"
)

func TestParseCookiesString(t *testing.T) {
	cs, err := ParseCookies("a=1; b=2;c=3")
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Equal(t, "a=1", cs[0].String())
	assert.Equal(t, "c", cs[2].Name)
	assert.True(t, cs[1].Session())

	cs, err = ParseCookies("sid=xyz; Domain=.example.com; Path=/app; Max-Age=60; Secure; HttpOnly; SameSite=lax")
	require.NoError(t, err)
	require.Len(t, cs, 1)
	c := cs[0]
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, "xyz", c.Value)
	assert.Equal(t, ".example.com", c.Domain)
	assert.Equal(t, "/app", c.Path)
	assert.True(t, c.Secure)
	assert.True(t, c.HTTPOnly)
	assert.Equal(t, "Lax", c.SameSite)
	assert.WithinDuration(t, time.Now().Add(time.Minute), c.Expires, 5*time.Second)

	cs, err = ParseCookies("k=v; Expires=Wed, 21 Oct 2015 07:28:00 GMT")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC), cs[0].Expires.UTC())

	for _, bad := range []string{"", "; ;", "=v", "Path=/", "a=1; b=2; Domain=x.com"} {
		_, err := ParseCookies(bad)
		assert.ErrorIs(t, err, ErrCookieFormat, bad)
	}
}

func TestParseCookiesValues(t *testing.T) {
	cs, err := ParseCookies(map[string]string{"name": "n", "value": "v", "domain": "d.com", "httpOnly": ""})
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, &Cookie{Name: "n", Value: "v", Domain: "d.com", HTTPOnly: true}, cs[0])

	cs, err = ParseCookies(map[string]string{"x": "1"})
	require.NoError(t, err)
	assert.Equal(t, []*Cookie{{Name: "x", Value: "1"}}, cs)

	cs, err = ParseCookies([]string{"a=1", "b=2; Path=/"})
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "/", cs[1].Path)

	cs, err = ParseCookies(&http.Cookie{Name: "h", Value: "1", SameSite: http.SameSiteStrictMode, HttpOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "Strict", cs[0].SameSite)
	assert.True(t, cs[0].HTTPOnly)

	own := &Cookie{Name: "own"}
	cs, err = ParseCookies(own)
	require.NoError(t, err)
	assert.Same(t, own, cs[0])

	_, err = ParseCookies(42)
	assert.ErrorIs(t, err, ErrCookieFormat)
}

func TestCookieParams(t *testing.T) {
	exp := time.Unix(1700000000, 500000000)
	params, err := cookieParams([]*Cookie{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2", Domain: ".x.com", Path: "/", Expires: exp, Secure: true, SameSite: "none"},
	}, "https://x.com/page")
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{
		{"name": "a", "value": "1", "url": "https://x.com/page"},
		{"name": "b", "value": "2", "domain": ".x.com", "path": "/", "expires": 1700000000.5, "secure": true, "sameSite": "None"},
	}, params)

	_, err = cookieParams([]*Cookie{{Name: "a"}}, "")
	assert.ErrorIs(t, err, ErrCookieFormat)
	_, err = cookieParams([]*Cookie{{Value: "1", Domain: "x.com"}}, "")
	assert.ErrorIs(t, err, ErrCookieFormat)
}

func TestParseCookiesResult(t *testing.T) {
	res := gjson.Parse(`[
		{"name":"s","value":"1","domain":"x.com","path":"/","expires":-1,"session":true,"httpOnly":true,"secure":false,"sameSite":"Lax"},
		{"name":"p","value":"2","domain":"x.com","path":"/","expires":1700000000,"session":false}
	]`)
	cs := parseCookies(res)
	require.Len(t, cs, 2)
	assert.True(t, cs[0].Session())
	assert.True(t, cs[0].HTTPOnly)
	assert.Equal(t, "Lax", cs[0].SameSite)
	assert.False(t, cs[1].Session())
	assert.Equal(t, int64(1700000000), cs[1].Expires.Unix())

	hc := cs[0].HTTP()
	assert.Equal(t, http.SameSiteLaxMode, hc.SameSite)
	assert.Equal(t, "x.com", hc.Domain)
}

func TestSetCookies(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	require.NoError(t, f.tab.Set().Cookies(ctx, "a=1; b=2"))
	calls := f.srv.Calls("Network.setCookies")
	require.Len(t, calls, 1)
	cookies := calls[0].Get("cookies").Array()
	require.Len(t, cookies, 2)
	assert.Equal(t, "a", cookies[0].Get("name").String())
	assert.Equal(t, "about:blank", cookies[0].Get("url").String())

	require.NoError(t, f.tab.Set().RemoveCookie(ctx, "a", "x.com", "/"))
	del := f.srv.Calls("Network.deleteCookies")
	require.Len(t, del, 1)
	assert.Equal(t, "x.com", del[0].Get("domain").String())
	assert.Equal(t, "/", del[0].Get("path").String())
}

func TestCookiesToSession(t *testing.T) {
	f := newFixture(t)
	f.handleNavigation()
	f.srv.Handle("Network.getCookies", func(*cdptest.Request) (interface{}, error) {
		return map[string]interface{}{"cookies": []map[string]interface{}{
			{"name": "sid", "value": "42", "domain": "example.com", "path": "/", "expires": -1, "session": true},
		}}, nil
	})
	ctx := testContext(t)

	_, err := f.tab.Get(ctx, "https://example.com/")
	require.NoError(t, err)

	s, err := session.New()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, f.tab.CookiesToSession(ctx, s))

	u, _ := url.Parse("https://example.com/")
	got := s.Cookies(u)
	require.Len(t, got, 1)
	assert.Equal(t, "sid", got[0].Name)
	assert.Equal(t, "42", got[0].Value)
}
