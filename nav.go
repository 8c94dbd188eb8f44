package drission

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chromedp/drission/driver"
)

// GetOption configures Get.
type GetOption func(*getConfig)

type getConfig struct {
	retry    int
	interval time.Duration
	timeout  time.Duration
	show     bool
}

// GetRetry sets how many times a failed navigation is retried and the pause
// between attempts. The browser defaults apply otherwise.
func GetRetry(times int, interval time.Duration) GetOption {
	return func(c *getConfig) {
		c.retry = times
		c.interval = interval
	}
}

// GetTimeout sets the page load timeout of one attempt.
func GetTimeout(d time.Duration) GetOption {
	return func(c *getConfig) {
		c.timeout = d
	}
}

// ShowErrMsg makes Get return the error of the last attempt instead of
// false once every attempt failed.
func ShowErrMsg(v bool) GetOption {
	return func(c *getConfig) {
		c.show = v
	}
}

// schemes that are passed through untouched.
var schemes = []string{"http:", "https:", "file:", "data:", "about:", "chrome:", "chrome-extension:", "blob:", "javascript:", "view-source:", "devtools:"}

// normalizeURL turns an existing local path into a file URL, adds http://
// to bare hosts and percent-encodes what needs it.
func (p *page) normalizeURL(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty url", ErrWrongURL)
	}
	if _, err := p.b.fs.Stat(s); err == nil {
		abs, err := filepath.Abs(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrWrongURL, err)
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
	}
	lower := strings.ToLower(s)
	known := false
	for _, sc := range schemes {
		if strings.HasPrefix(lower, sc) {
			known = true
			break
		}
	}
	if !known {
		s = "http://" + s
	}
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
		return s, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrongURL, err)
	}
	return u.String(), nil
}

// Get navigates to urlstr and waits for the page as the load mode says. A
// failed or timed out attempt stops loading and is retried. Get reports
// whether the page loaded.
func (p *page) Get(ctx context.Context, urlstr string, opts ...GetOption) (bool, error) {
	p.cmu.RLock()
	cfg := getConfig{retry: p.retryTimes, interval: p.retryInterval, timeout: p.timeouts.PageLoad}
	p.cmu.RUnlock()
	for _, o := range opts {
		o(&cfg)
	}
	dest, err := p.normalizeURL(urlstr)
	if err != nil {
		return false, err
	}

	ctx, span := p.tracer.Start(ctx, "Get", trace.WithAttributes(
		attribute.String("url", dest),
		attribute.String("tab", p.tabID),
	))
	defer span.End()

	var last error
	for attempt := 0; attempt <= cfg.retry; attempt++ {
		if attempt > 0 {
			p.log.WithError(last).WithField("attempt", attempt).Debug("retrying navigation")
			if err := sleep(ctx, cfg.interval); err != nil {
				return false, err
			}
		}
		last = p.navigate(ctx, dest, cfg.timeout)
		if last == nil {
			return true, nil
		}
		if errors.Is(last, ErrWrongURL) || ctx.Err() != nil {
			break
		}
	}
	span.SetStatus(codes.Error, last.Error())
	if cfg.show || errors.Is(last, ErrWrongURL) || ctx.Err() != nil {
		return false, last
	}
	p.log.WithError(last).WithField("url", dest).Warn("could not load page")
	return false, nil
}

func (p *page) navigate(ctx context.Context, urlstr string, timeout time.Duration) error {
	seq := p.seq()
	ectx, err := p.executor(ctx, driver.Timeout(timeout))
	if err != nil {
		return err
	}
	nav := cdppage.Navigate(urlstr)
	if targetID, frameID := p.ids(); frameID != targetID {
		nav = nav.WithFrameID(cdp.FrameID(frameID))
	}
	_, loader, errText, err := nav.Do(ectx)
	switch {
	case err != nil:
		return wrapErr(err)
	case errText == "net::ERR_INVALID_URL":
		return fmt.Errorf("%w: %s", ErrWrongURL, urlstr)
	case errText != "":
		return fmt.Errorf("%w: %s: %s", ErrContextLost, urlstr, errText)
	case loader == "":
		// same document navigation, no load events follow
		return nil
	}
	return p.waitNav(ctx, seq, timeout)
}

// seq returns the number of navigations seen so far.
func (p *page) seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navSeq
}

// waitNav waits for a navigation that started after seq to reach the state
// the load mode releases at. On timeout loading is stopped.
func (p *page) waitNav(ctx context.Context, seq uint64, timeout time.Duration) error {
	want := StateComplete
	switch p.LoadMode() {
	case LoadNone:
		return nil
	case LoadEager:
		want = StateInteractive
	}
	wctx, cancel := deadline(ctx, timeout)
	defer cancel()
	for {
		p.mu.Lock()
		s, n, ch := p.state, p.navSeq, p.changed
		p.mu.Unlock()
		if n > seq && s.rank() >= want.rank() {
			return nil
		}
		var done <-chan struct{}
		if drv := p.rawDriver(); drv != nil {
			done = drv.Done()
		}
		select {
		case <-ch:
		case <-done:
			return ErrPageDisconnected
		case <-wctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), p.Timeouts().Base)
			if err := p.Stop(sctx); err != nil {
				p.log.WithError(err).Debug("stopLoading after timeout")
			}
			scancel()
			return fmt.Errorf("%w: page load after %v", ErrWaitTimeout, timeout)
		}
	}
}

// Refresh reloads the page, bypassing the cache when ignoreCache is set.
func (p *page) Refresh(ctx context.Context, ignoreCache bool) error {
	seq := p.seq()
	ectx, err := p.executor(ctx)
	if err != nil {
		return err
	}
	if err := cdppage.Reload().WithIgnoreCache(ignoreCache).Do(ectx); err != nil {
		return wrapErr(err)
	}
	return p.waitNav(ctx, seq, p.Timeouts().PageLoad)
}

// Back goes steps entries back in history. Consecutive entries with the
// same URL count as one step.
func (p *page) Back(ctx context.Context, steps int) error {
	return p.history(ctx, -steps)
}

// Forward goes steps entries forward in history.
func (p *page) Forward(ctx context.Context, steps int) error {
	return p.history(ctx, steps)
}

func (p *page) history(ctx context.Context, steps int) error {
	ectx, err := p.executor(ctx)
	if err != nil {
		return err
	}
	cur, entries, err := cdppage.GetNavigationHistory().Do(ectx)
	if err != nil {
		return wrapErr(err)
	}
	idx := historyIndex(entries, int(cur), steps)
	if idx == int(cur) {
		return nil
	}
	seq := p.seq()
	if err := cdppage.NavigateToHistoryEntry(entries[idx].ID).Do(ectx); err != nil {
		return wrapErr(err)
	}
	return p.waitNav(ctx, seq, p.Timeouts().PageLoad)
}

// historyIndex walks steps entries from cur, skipping runs of entries with
// the URL just left.
func historyIndex(entries []*cdppage.NavigationEntry, cur, steps int) int {
	if cur < 0 || cur >= len(entries) {
		return cur
	}
	dir := 1
	if steps < 0 {
		dir, steps = -1, -steps
	}
	idx := cur
	for ; steps > 0; steps-- {
		from := entries[idx].URL
		for idx+dir >= 0 && idx+dir < len(entries) && entries[idx+dir].URL == from {
			idx += dir
		}
		if idx+dir < 0 || idx+dir >= len(entries) {
			break
		}
		idx += dir
	}
	if entries[idx].URL == entries[cur].URL {
		return cur
	}
	return idx
}

// Stop stops loading and marks the page complete.
func (p *page) Stop(ctx context.Context) error {
	if _, err := p.call(ctx, "Page.stopLoading", nil); err != nil {
		return err
	}
	if _, err := p.acquire(ctx); err != nil {
		p.log.WithError(err).Debug("could not read document after stop")
	}
	p.setState(StateComplete)
	return nil
}

// URL returns the address of the document.
func (p *page) URL(ctx context.Context) (string, error) {
	if p.host == nil {
		info, err := p.targetInfo(ctx)
		if err != nil {
			return "", err
		}
		return info.URL, nil
	}
	v, err := p.RunJS(ctx, "return location.href")
	s, _ := v.(string)
	return s, err
}

// Title returns the document title.
func (p *page) Title(ctx context.Context) (string, error) {
	if p.host == nil {
		info, err := p.targetInfo(ctx)
		if err != nil {
			return "", err
		}
		return info.Title, nil
	}
	v, err := p.RunJS(ctx, "return document.title")
	s, _ := v.(string)
	return s, err
}

func (p *page) targetInfo(ctx context.Context) (*target.Info, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	targetID, _ := p.ids()
	info, err := target.GetTargetInfo().WithTargetID(target.ID(targetID)).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return info, nil
}

// HTML returns the markup of the whole document.
func (p *page) HTML(ctx context.Context) (string, error) {
	doc, err := p.document(ctx)
	if err != nil {
		return "", err
	}
	ectx, err := p.executor(ctx)
	if err != nil {
		return "", err
	}
	for attempt := 0; ; attempt++ {
		s, err := dom.GetOuterHTML().WithBackendNodeID(doc.backendID).Do(ectx)
		if err == nil {
			return s, nil
		}
		if err = wrapErr(err); attempt > 0 || !transient(err) && !errors.Is(err, ErrCDP) {
			return "", err
		}
		p.invalidate()
		if doc, err = p.document(ctx); err != nil {
			return "", err
		}
	}
}
