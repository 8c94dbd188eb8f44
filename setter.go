package drission

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/tidwall/gjson"
)

// Setter changes tab level state.
type Setter struct {
	t *Tab
}

// Cookies stores cookies for the current page. v is anything ParseCookies
// accepts. Cookies without a domain are bound to the current URL.
func (s *Setter) Cookies(ctx context.Context, v interface{}) error {
	cookies, err := ParseCookies(v)
	if err != nil {
		return err
	}
	urlstr, err := s.t.URL(ctx)
	if err != nil {
		return err
	}
	params, err := cookieParams(cookies, urlstr)
	if err != nil {
		return err
	}
	_, err = s.t.call(ctx, "Network.setCookies", map[string]interface{}{"cookies": params})
	return err
}

// RemoveCookie deletes the cookie named name. An empty domain means the
// current URL.
func (s *Setter) RemoveCookie(ctx context.Context, name, domain, path string) error {
	ectx, err := s.t.executor(ctx)
	if err != nil {
		return err
	}
	del := network.DeleteCookies(name)
	if domain != "" {
		del = del.WithDomain(domain)
	} else {
		urlstr, err := s.t.URL(ctx)
		if err != nil {
			return err
		}
		del = del.WithURL(urlstr)
	}
	if path != "" {
		del = del.WithPath(path)
	}
	return wrapErr(del.Do(ectx))
}

// ClearCookies deletes every cookie of the browser.
func (s *Setter) ClearCookies(ctx context.Context) error {
	_, err := s.t.call(ctx, "Network.clearBrowserCookies", nil)
	return err
}

// UserAgent overrides the user agent, and the platform when it is not
// empty.
func (s *Setter) UserAgent(ctx context.Context, ua, platform string) error {
	ectx, err := s.t.executor(ctx)
	if err != nil {
		return err
	}
	o := emulation.SetUserAgentOverride(ua)
	if platform != "" {
		o = o.WithPlatform(platform)
	}
	return wrapErr(o.Do(ectx))
}

// Headers sets extra headers sent with every request of the tab.
func (s *Setter) Headers(ctx context.Context, headers map[string]string) error {
	ectx, err := s.t.executor(ctx)
	if err != nil {
		return err
	}
	if err := network.Enable().Do(ectx); err != nil {
		return wrapErr(err)
	}
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return wrapErr(network.SetExtraHTTPHeaders(h).Do(ectx))
}

// BlockedURLs blocks requests matching the patterns; "*" is a wildcard.
// No patterns unblock everything.
func (s *Setter) BlockedURLs(ctx context.Context, patterns ...string) error {
	ectx, err := s.t.executor(ctx)
	if err != nil {
		return err
	}
	if err := network.Enable().Do(ectx); err != nil {
		return wrapErr(err)
	}
	if patterns == nil {
		patterns = []string{}
	}
	return wrapErr(network.SetBlockedURLS(patterns).Do(ectx))
}

// CacheDisabled turns the HTTP cache of the tab off or on.
func (s *Setter) CacheDisabled(ctx context.Context, disabled bool) error {
	ectx, err := s.t.executor(ctx)
	if err != nil {
		return err
	}
	return wrapErr(network.SetCacheDisabled(disabled).Do(ectx))
}

// LocalStorage sets a localStorage item. A nil value removes the item.
func (s *Setter) LocalStorage(ctx context.Context, key string, value *string) error {
	return s.t.storage(ctx, "local", "set", key, value)
}

// SessionStorage sets a sessionStorage item. A nil value removes the item.
func (s *Setter) SessionStorage(ctx context.Context, key string, value *string) error {
	return s.t.storage(ctx, "session", "set", key, value)
}

// ClearLocalStorage removes every localStorage item of the page origin.
func (s *Setter) ClearLocalStorage(ctx context.Context) error {
	return s.t.storage(ctx, "local", "clear", "", nil)
}

// ClearSessionStorage removes every sessionStorage item of the page origin.
func (s *Setter) ClearSessionStorage(ctx context.Context) error {
	return s.t.storage(ctx, "session", "clear", "", nil)
}

// LoadMode sets when navigations count as done.
func (s *Setter) LoadMode(mode LoadMode) {
	s.t.cmu.Lock()
	defer s.t.cmu.Unlock()
	s.t.loadMode = mode
}

// Timeouts sets the timeouts of the tab; zero fields keep their value.
func (s *Setter) Timeouts(t Timeouts) {
	s.t.cmu.Lock()
	defer s.t.cmu.Unlock()
	s.t.timeouts = t.merge(s.t.timeouts)
}

// Retry sets how often and how far apart Get retries.
func (s *Setter) Retry(times int, interval time.Duration) {
	s.t.cmu.Lock()
	defer s.t.cmu.Unlock()
	s.t.retryTimes, s.t.retryInterval = times, interval
}

// AutoHandleAlert sets the dialog policy of the tab. It takes precedence
// over the browser wide policy.
func (s *Setter) AutoHandleAlert(on, accept bool) {
	s.t.setAlertPolicy(AlertPolicy{On: on, Accept: accept})
}

// DownloadPath sets the directory downloads of the tab are moved to.
func (s *Setter) DownloadPath(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	s.t.b.downloads.setTabPath(s.t.tabID, abs)
	return nil
}

// DownloadFileName renames the next download of the tab. A suffix replaces
// the extension; without one the extension of the suggested name is kept
// unless name has its own.
func (s *Setter) DownloadFileName(name, suffix string) {
	s.t.b.downloads.setTabRename(s.t.tabID, name, suffix)
}

// WhenDownloadFileExists sets the conflict policy of the tab's downloads.
func (s *Setter) WhenDownloadFileExists(w WhenExists) error {
	switch w {
	case WhenExistsRename, WhenExistsOverwrite, WhenExistsSkip:
	default:
		return fmt.Errorf("%w: when exists %q", ErrInvalidArgument, w)
	}
	s.t.b.downloads.setTabWhenExists(s.t.tabID, w)
	return nil
}

// UploadFiles queues files for the next file chooser the page opens. The
// chooser is intercepted, so a click on a file input fills it without a
// dialog.
func (s *Setter) UploadFiles(ctx context.Context, files ...string) error {
	abs, err := absPaths(files)
	if err != nil {
		return err
	}
	s.t.umu.Lock()
	s.t.uploads = abs
	s.t.umu.Unlock()
	_, err = s.t.call(ctx, "Page.setInterceptFileChooserDialog", map[string]bool{"enabled": true})
	return err
}

// WindowState sets the state of the browser window holding the tab.
func (s *Setter) WindowState(ctx context.Context, state browser.WindowState) error {
	id, cur, err := s.t.window(ctx)
	if err != nil {
		return err
	}
	if cur.WindowState == state {
		return nil
	}
	if cur.WindowState != browser.WindowStateNormal && state != browser.WindowStateNormal {
		// maximized, minimized and fullscreen only switch through normal
		if err := s.t.setBounds(ctx, id, &browser.Bounds{WindowState: browser.WindowStateNormal}); err != nil {
			return err
		}
	}
	return s.t.setBounds(ctx, id, &browser.Bounds{WindowState: state})
}

// WindowSize resizes the browser window. A zero dimension keeps its value.
func (s *Setter) WindowSize(ctx context.Context, width, height int64) error {
	return s.windowBounds(ctx, func(b *browser.Bounds) {
		if width > 0 {
			b.Width = width
		}
		if height > 0 {
			b.Height = height
		}
	})
}

// WindowLocation moves the browser window.
func (s *Setter) WindowLocation(ctx context.Context, x, y int64) error {
	return s.windowBounds(ctx, func(b *browser.Bounds) {
		b.Left, b.Top = x, y
	})
}

func (s *Setter) windowBounds(ctx context.Context, fn func(*browser.Bounds)) error {
	id, cur, err := s.t.window(ctx)
	if err != nil {
		return err
	}
	if cur.WindowState != browser.WindowStateNormal {
		if err := s.t.setBounds(ctx, id, &browser.Bounds{WindowState: browser.WindowStateNormal}); err != nil {
			return err
		}
	}
	b := &browser.Bounds{Left: cur.Left, Top: cur.Top, Width: cur.Width, Height: cur.Height}
	fn(b)
	return s.t.setBounds(ctx, id, b)
}

func (p *page) setBounds(ctx context.Context, id browser.WindowID, b *browser.Bounds) error {
	drv := p.b.driver()
	if drv == nil {
		return ErrPageDisconnected
	}
	return wrapErr(browser.SetWindowBounds(id, b).Do(cdp.WithExecutor(ctx, drv)))
}

// storage runs one storage operation in the page.
func (p *page) storage(ctx context.Context, kind, op, key string, value *string) error {
	_, err := p.storageValue(ctx, kind, op, key, value)
	return err
}

func (p *page) storageValue(ctx context.Context, kind, op, key string, value *string) (gjson.Result, error) {
	doc, err := p.document(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	var v interface{}
	if value != nil {
		v = *value
	}
	res, err := p.callValue(ctx, doc.objectID, storageJS, kind, op, key, v)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return res, nil
}

// LocalStorage returns every localStorage item of the page origin.
func (p *page) LocalStorage(ctx context.Context) (map[string]string, error) {
	return p.storageItems(ctx, "local")
}

// SessionStorage returns every sessionStorage item of the page origin.
func (p *page) SessionStorage(ctx context.Context) (map[string]string, error) {
	return p.storageItems(ctx, "session")
}

func (p *page) storageItems(ctx context.Context, kind string) (map[string]string, error) {
	res, err := p.storageValue(ctx, kind, "get", "", nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	res.ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.String()
		return true
	})
	return out, nil
}

// ElementSetter changes an element.
type ElementSetter struct {
	e *Element
}

func (s *ElementSetter) nodeID(ctx context.Context) (context.Context, cdp.NodeID, error) {
	id, err := s.e.object(ctx)
	if err != nil {
		return nil, 0, err
	}
	ectx, err := s.e.p.executor(ctx)
	if err != nil {
		return nil, 0, err
	}
	n, err := dom.RequestNode(id).Do(ectx)
	if err != nil {
		return nil, 0, wrapErr(err)
	}
	return ectx, n, nil
}

// Attr sets an attribute.
func (s *ElementSetter) Attr(ctx context.Context, name, value string) error {
	ectx, n, err := s.nodeID(ctx)
	if err != nil {
		return err
	}
	return wrapErr(dom.SetAttributeValue(n, name, value).Do(ectx))
}

// RemoveAttr removes an attribute.
func (s *ElementSetter) RemoveAttr(ctx context.Context, name string) error {
	ectx, n, err := s.nodeID(ctx)
	if err != nil {
		return err
	}
	return wrapErr(dom.RemoveAttribute(n, name).Do(ectx))
}

// Property sets a javascript property.
func (s *ElementSetter) Property(ctx context.Context, name string, value interface{}) error {
	_, err := s.e.callValue(ctx, "function(n, v) { this[n] = v; }", name, value)
	return err
}

// Style sets an inline style property.
func (s *ElementSetter) Style(ctx context.Context, name, value string) error {
	_, err := s.e.callValue(ctx, "function(n, v) { this.style.setProperty(n, v); }", name, value)
	return err
}

// InnerHTML replaces the content of the element.
func (s *ElementSetter) InnerHTML(ctx context.Context, html string) error {
	return s.Property(ctx, "innerHTML", html)
}

// Value sets the value and fires input and change.
func (s *ElementSetter) Value(ctx context.Context, value string) error {
	_, err := s.e.callValue(ctx, setValueJS, value)
	return err
}
