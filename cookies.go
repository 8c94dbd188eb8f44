package drission

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chromedp/drission/session"
)

// Cookie is a browser cookie.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
	SameSite string
}

// Session reports whether the cookie lives only as long as the browser.
func (c *Cookie) Session() bool {
	return c.Expires.IsZero()
}

// HTTP converts c to a net/http cookie.
func (c *Cookie) HTTP() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	switch strings.ToLower(c.SameSite) {
	case "strict":
		hc.SameSite = http.SameSiteStrictMode
	case "lax":
		hc.SameSite = http.SameSiteLaxMode
	case "none":
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}

func (c *Cookie) String() string {
	return c.Name + "=" + c.Value
}

func parseCookies(res gjson.Result) []*Cookie {
	var out []*Cookie
	for _, r := range res.Array() {
		c := &Cookie{
			Name:     r.Get("name").String(),
			Value:    r.Get("value").String(),
			Domain:   r.Get("domain").String(),
			Path:     r.Get("path").String(),
			HTTPOnly: r.Get("httpOnly").Bool(),
			Secure:   r.Get("secure").Bool(),
			SameSite: r.Get("sameSite").String(),
		}
		if exp := r.Get("expires").Float(); exp > 0 && !r.Get("session").Bool() {
			sec, frac := math.Modf(exp)
			c.Expires = time.Unix(int64(sec), int64(frac*1e9))
		}
		out = append(out, c)
	}
	return out
}

// cookieParams turns cookies into Network.CookieParam objects. A cookie
// without a domain is bound to urlstr; with neither the cookie is
// rejected.
func cookieParams(cookies []*Cookie, urlstr string) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: cookie without name", ErrCookieFormat)
		}
		m := map[string]interface{}{"name": c.Name, "value": c.Value}
		switch {
		case c.Domain != "":
			m["domain"] = c.Domain
		case urlstr != "":
			m["url"] = urlstr
		default:
			return nil, fmt.Errorf("%w: cookie %q has no domain", ErrCookieFormat, c.Name)
		}
		if c.Path != "" {
			m["path"] = c.Path
		}
		if !c.Expires.IsZero() {
			m["expires"] = float64(c.Expires.UnixNano()) / 1e9
		}
		if c.HTTPOnly {
			m["httpOnly"] = true
		}
		if c.Secure {
			m["secure"] = true
		}
		if s := sameSite(c.SameSite); s != "" {
			m["sameSite"] = s
		}
		out = append(out, m)
	}
	return out, nil
}

func sameSite(s string) string {
	switch strings.ToLower(s) {
	case "strict":
		return "Strict"
	case "lax":
		return "Lax"
	case "none":
		return "None"
	}
	return ""
}

// ParseCookies reads cookies from a Set-Cookie style string, a
// "name=value; name2=value2" header, a map, a *Cookie, an *http.Cookie or
// slices of those. A map with "name" and "value" keys is one cookie with
// its attributes; any other map holds name to value pairs.
func ParseCookies(v interface{}) ([]*Cookie, error) {
	switch v := v.(type) {
	case *Cookie:
		return []*Cookie{v}, nil
	case []*Cookie:
		return v, nil
	case *http.Cookie:
		return []*Cookie{fromHTTP(v)}, nil
	case []*http.Cookie:
		out := make([]*Cookie, len(v))
		for i, c := range v {
			out[i] = fromHTTP(c)
		}
		return out, nil
	case string:
		return parseCookieString(v)
	case []string:
		var out []*Cookie
		for _, s := range v {
			cs, err := parseCookieString(s)
			if err != nil {
				return nil, err
			}
			out = append(out, cs...)
		}
		return out, nil
	case map[string]string:
		if _, ok := v["name"]; ok {
			if _, ok := v["value"]; ok {
				return []*Cookie{cookieFromAttrs(v)}, nil
			}
		}
		out := make([]*Cookie, 0, len(v))
		for name, val := range v {
			out = append(out, &Cookie{Name: name, Value: val})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported type %T", ErrCookieFormat, v)
}

func fromHTTP(c *http.Cookie) *Cookie {
	out := &Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		HTTPOnly: c.HttpOnly,
		Secure:   c.Secure,
	}
	switch c.SameSite {
	case http.SameSiteStrictMode:
		out.SameSite = "Strict"
	case http.SameSiteLaxMode:
		out.SameSite = "Lax"
	case http.SameSiteNoneMode:
		out.SameSite = "None"
	}
	if c.MaxAge > 0 {
		out.Expires = time.Now().Add(time.Duration(c.MaxAge) * time.Second)
	}
	return out
}

// cookieAttrs lists the attribute names of a Set-Cookie line.
var cookieAttrs = map[string]bool{
	"domain": true, "path": true, "expires": true, "max-age": true,
	"httponly": true, "secure": true, "samesite": true,
}

// parseCookieString parses a Set-Cookie line, which holds one cookie and
// its attributes, or a Cookie header, which holds several name=value pairs.
func parseCookieString(s string) ([]*Cookie, error) {
	parts := strings.Split(s, ";")
	attrs := make(map[string]string)
	var pairs [][2]string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, _ := strings.Cut(p, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" {
			return nil, fmt.Errorf("%w: %q", ErrCookieFormat, s)
		}
		if cookieAttrs[strings.ToLower(k)] {
			attrs[strings.ToLower(k)] = v
			continue
		}
		pairs = append(pairs, [2]string{k, v})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrCookieFormat, s)
	}
	if len(attrs) == 0 {
		out := make([]*Cookie, len(pairs))
		for i, kv := range pairs {
			out[i] = &Cookie{Name: kv[0], Value: kv[1]}
		}
		return out, nil
	}
	if len(pairs) > 1 {
		return nil, fmt.Errorf("%w: attributes with several cookies in %q", ErrCookieFormat, s)
	}
	attrs["name"], attrs["value"] = pairs[0][0], pairs[0][1]
	return []*Cookie{cookieFromAttrs(attrs)}, nil
}

func cookieFromAttrs(m map[string]string) *Cookie {
	c := &Cookie{
		Name:     m["name"],
		Value:    m["value"],
		Domain:   m["domain"],
		Path:     m["path"],
		SameSite: sameSite(firstOf(m, "samesite", "sameSite")),
	}
	_, c.HTTPOnly = m["httponly"]
	if _, ok := m["httpOnly"]; ok {
		c.HTTPOnly = true
	}
	_, c.Secure = m["secure"]
	if v, ok := m["max-age"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Expires = time.Now().Add(time.Duration(n) * time.Second)
		}
	} else if v := m["expires"]; v != "" {
		if t, err := http.ParseTime(v); err == nil {
			c.Expires = t
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Expires = time.Unix(int64(f), 0)
		}
	}
	return c
}

func firstOf(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return ""
}

// CookiesToSession copies the cookies of the tab's current URL into s.
func (t *Tab) CookiesToSession(ctx context.Context, s *session.Session) error {
	urlstr, err := t.URL(ctx)
	if err != nil {
		return err
	}
	u, err := url.Parse(urlstr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrongURL, err)
	}
	cookies, err := t.Cookies(ctx, false)
	if err != nil {
		return err
	}
	hc := make([]*http.Cookie, len(cookies))
	for i, c := range cookies {
		hc[i] = c.HTTP()
	}
	s.SetCookies(u, hc)
	return nil
}
