package drission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/chromedp/drission/client"
	"github.com/chromedp/drission/driver"
	"github.com/chromedp/drission/runner"
)

// Browser is a session with one browser, identified by the id in its
// websocket debugger URL. It owns the browser level driver, the frame to tab
// table and the download manager.
type Browser struct {
	id       string
	address  string
	headless bool

	client       *client.Client
	runner       *runner.Runner
	existingOnly bool
	runnerOpts   []runner.CommandLineOption

	dmu sync.RWMutex
	drv *driver.Driver

	mu      sync.RWMutex
	frames  map[string]string
	tabs    map[string]*Tab
	drivers map[string][]*driver.Driver
	subs    []chan string

	downloads     *DownloadManager
	downloadPath  string
	tmpPath       string
	fs            afero.Fs
	settings      *Settings
	timeouts      Timeouts
	loadMode      LoadMode
	retryTimes    int
	retryInterval time.Duration

	registry *Registry
	log      *logrus.Entry
	closed   atomic.Bool
	// bumped for every browser driver, so a replaced one does not report
	// its own disconnect
	gen atomic.Uint64
}

// Connect attaches to the browser listening on the configured address, or
// launches one when nothing answers there. A browser already connected
// through the same registry is returned as is.
func Connect(ctx context.Context, opts ...BrowserOption) (*Browser, error) {
	b := &Browser{
		address:       client.DefaultAddress,
		frames:        make(map[string]string),
		tabs:          make(map[string]*Tab),
		drivers:       make(map[string][]*driver.Driver),
		timeouts:      DefaultTimeouts(),
		loadMode:      LoadNormal,
		retryTimes:    3,
		retryInterval: 2 * time.Second,
		registry:      DefaultRegistry,
	}
	for _, o := range opts {
		o(b)
	}
	if b.settings == nil {
		b.settings = NewSettings()
	}
	if b.log == nil {
		b.log = entry(newLogger())
	}
	if b.fs == nil {
		b.fs = afero.NewOsFs()
	}
	if b.tmpPath == "" {
		b.tmpPath = filepath.Join(os.TempDir(), "drission", "downloads", uuid.NewString())
	}
	if b.downloadPath == "" {
		b.downloadPath = "."
	}

	b.client = client.New(client.Address(b.address), client.WatchTimeout(b.timeouts.Base))
	if !b.client.Reachable(ctx) {
		if b.existingOnly {
			return nil, fmt.Errorf("%w: nothing answers on %s", ErrBrowserConnect, b.address)
		}
		if err := b.launch(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
		}
	}
	if _, err := b.client.WaitPageTarget(ctx); err != nil {
		b.kill()
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	v, err := b.client.Version(ctx)
	if err != nil {
		b.kill()
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	if prev := b.registry.Get(v.BrowserID); prev != nil {
		return prev, nil
	}
	b.id, b.headless = v.BrowserID, v.Headless
	b.log = b.log.WithField("browser", b.id)
	b.downloads = newDownloadManager(b)

	if err := b.connect(ctx, v.WebSocketDebuggerURL); err != nil {
		b.kill()
		return nil, err
	}
	if !b.registry.add(b) {
		// lost a race with another Connect for the same browser
		b.stopDriver()
		return b.registry.Get(b.id), nil
	}
	return b, nil
}

func (b *Browser) launch(ctx context.Context) error {
	host, port := b.address, runner.DefaultPort
	if i := strings.LastIndexByte(b.address, ':'); i != -1 {
		host = b.address[:i]
		if _, err := fmt.Sscanf(b.address[i+1:], "%d", &port); err != nil {
			return fmt.Errorf("bad address %q: %w", b.address, err)
		}
	}
	if host != "127.0.0.1" && host != "localhost" {
		return fmt.Errorf("cannot launch a browser on remote host %s", host)
	}
	opts := append([]runner.CommandLineOption{runner.RemoteDebuggingPort(port)}, b.runnerOpts...)
	r, err := runner.New(opts...)
	if err != nil {
		return err
	}
	r.SetLogger(b.log)
	// the process outlives ctx, it is killed by Quit
	if err := r.Start(context.Background()); err != nil {
		return err
	}
	b.runner = r
	b.log.WithField("pid", r.PID()).Info("launched browser")
	return nil
}

func (b *Browser) kill() {
	if b.runner == nil {
		return
	}
	_ = b.runner.Kill()
	_ = b.runner.Wait()
}

// connect dials the browser endpoint and enables discovery and downloads.
func (b *Browser) connect(ctx context.Context, wsURL string) error {
	gen := b.gen.Add(1)
	drv, err := driver.Dial(ctx, wsURL,
		driver.WithLogger(b.log),
		driver.WithCallTimeout(b.settings.CDPTimeout()),
		driver.OnDisconnect(func() { b.onDisconnect(gen) }),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	drv.SetCallback("Target.targetCreated", b.onTargetCreated, false)
	drv.SetCallback("Target.targetDestroyed", b.onTargetDestroyed, false)
	drv.SetCallback("Browser.downloadWillBegin", b.downloads.onWillBegin, false)
	drv.SetCallback("Browser.downloadProgress", b.downloads.onProgress, false)

	b.dmu.Lock()
	b.drv = drv
	b.dmu.Unlock()

	if _, err := drv.Call(ctx, "Target.setDiscoverTargets", map[string]bool{"discover": true}); err != nil {
		drv.Stop()
		return wrapErr(err)
	}
	return b.setDownloadBehavior(ctx)
}

func (b *Browser) setDownloadBehavior(ctx context.Context) error {
	_, err := b.driver().Call(ctx, "Browser.setDownloadBehavior", map[string]interface{}{
		"behavior":      "allowAndName",
		"downloadPath":  b.tmpPath,
		"eventsEnabled": true,
	})
	return wrapErr(err)
}

// onDisconnect drops a browser whose connection went away from the
// registry, so that Connect dials it afresh. Reconnect puts it back.
func (b *Browser) onDisconnect(gen uint64) {
	if b.closed.Load() || b.gen.Load() != gen {
		return
	}
	b.registry.remove(b)
	b.log.Warn("browser connection lost")
}

func (b *Browser) driver() *driver.Driver {
	b.dmu.RLock()
	defer b.dmu.RUnlock()
	return b.drv
}

func (b *Browser) stopDriver() {
	if drv := b.driver(); drv != nil {
		drv.Stop()
	}
}

// Reconnect replaces the browser level driver. Tab drivers are left alone
// and reconnect on their next use.
func (b *Browser) Reconnect(ctx context.Context) error {
	if b.closed.Load() {
		return fmt.Errorf("%w: browser has quit", ErrBrowserConnect)
	}
	b.gen.Add(1)
	b.stopDriver()
	v, err := b.client.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	if v.BrowserID != b.id {
		return fmt.Errorf("%w: browser id changed from %s to %s", ErrBrowserConnect, b.id, v.BrowserID)
	}
	if err := b.connect(ctx, v.WebSocketDebuggerURL); err != nil {
		return err
	}
	if !b.registry.add(b) {
		b.log.Debug("registry already holds another browser with this id")
	}
	return nil
}

// ID returns the browser id.
func (b *Browser) ID() string {
	return b.id
}

// Address returns the debugging address.
func (b *Browser) Address() string {
	return b.address
}

// Headless reports whether the browser identifies itself as headless.
func (b *Browser) Headless() bool {
	return b.headless
}

// Settings returns the switches shared by the browser's tabs.
func (b *Browser) Settings() *Settings {
	return b.settings
}

// Downloads returns the download manager.
func (b *Browser) Downloads() *DownloadManager {
	return b.downloads
}

// Call runs a protocol method on the browser target.
func (b *Browser) Call(ctx context.Context, method string, params interface{}, opts ...driver.CallOption) (gjson.Result, error) {
	res, err := b.driver().Call(ctx, method, params, opts...)
	return res, wrapErr(err)
}

func (b *Browser) onTargetCreated(ev *driver.Event) {
	info := ev.Get("targetInfo")
	typ := info.Get("type").String()
	if typ != "page" && typ != "webview" || strings.HasPrefix(info.Get("url").String(), "devtools://") {
		return
	}
	id := info.Get("targetId").String()
	b.mu.Lock()
	b.frames[id] = id
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, ch := range subs {
		ch <- id
	}
	b.log.WithField("tab", id).Debug("tab created")
}

func (b *Browser) onTargetDestroyed(ev *driver.Event) {
	id := ev.Get("targetId").String()
	b.mu.Lock()
	for f, t := range b.frames {
		if t == id {
			delete(b.frames, f)
		}
	}
	tab := b.tabs[id]
	delete(b.tabs, id)
	drivers := b.drivers[id]
	delete(b.drivers, id)
	b.mu.Unlock()

	for _, d := range drivers {
		d.Stop()
	}
	if tab != nil {
		tab.closed.Store(true)
	}
	b.downloads.dropTab(id)
}

// setFrame records that frameID belongs to tabID.
func (b *Browser) setFrame(frameID, tabID string) {
	b.mu.Lock()
	b.frames[frameID] = tabID
	b.mu.Unlock()
}

func (b *Browser) removeFrame(frameID string) {
	b.mu.Lock()
	delete(b.frames, frameID)
	b.mu.Unlock()
}

// FrameTab returns the tab a frame id belongs to.
func (b *Browser) FrameTab(frameID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.frames[frameID]
	return id, ok
}

// newDriver opens a connection to targetID on behalf of tabID.
func (b *Browser) newDriver(ctx context.Context, tabID, targetID string, fields logrus.Fields) (*driver.Driver, error) {
	if b.closed.Load() {
		return nil, ErrPageDisconnected
	}
	var drv *driver.Driver
	drv, err := driver.Dial(ctx, fmt.Sprintf("ws://%s/devtools/page/%s", b.address, targetID),
		driver.WithLogger(b.log.WithFields(fields)),
		driver.WithCallTimeout(b.settings.CDPTimeout()),
		driver.OnDisconnect(func() { b.dropDriver(tabID, drv) }),
	)
	if err != nil {
		if _, ok := b.FrameTab(targetID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
		}
		return nil, fmt.Errorf("%w: %v", ErrPageDisconnected, err)
	}
	b.mu.Lock()
	b.drivers[tabID] = append(b.drivers[tabID], drv)
	b.mu.Unlock()
	return drv, nil
}

func (b *Browser) dropDriver(tabID string, drv *driver.Driver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds := b.drivers[tabID]
	if i := slices.Index(ds, drv); i != -1 {
		b.drivers[tabID] = slices.Delete(ds, i, i+1)
	}
}

// TabIDs lists page and webview targets in the order the browser shows
// them, most recent first.
func (b *Browser) TabIDs(ctx context.Context) ([]string, error) {
	targets, err := b.client.ListPageTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
		b.mu.Lock()
		if _, ok := b.frames[t.ID]; !ok {
			b.frames[t.ID] = t.ID
		}
		b.mu.Unlock()
	}
	return ids, nil
}

// TabsCount counts page and webview targets over the protocol.
func (b *Browser) TabsCount(ctx context.Context) (int, error) {
	res, err := b.Call(ctx, "Target.getTargets", nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range res.Get("targetInfos").Array() {
		typ := t.Get("type").String()
		if (typ == "page" || typ == "webview") && !strings.HasPrefix(t.Get("url").String(), "devtools://") {
			n++
		}
	}
	return n, nil
}

// LatestTab returns the most recently focused tab.
func (b *Browser) LatestTab(ctx context.Context) (*Tab, error) {
	ids, err := b.TabIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrTargetNotFound
	}
	return b.GetTab(ctx, ids[0])
}

// NewTabOption configures NewTab.
type NewTabOption func(map[string]interface{})

// InNewWindow opens the tab in a new window.
func InNewWindow(m map[string]interface{}) {
	m["newWindow"] = true
}

// InBackground opens the tab without focusing it.
func InBackground(m map[string]interface{}) {
	m["background"] = true
}

// InContext opens the tab in a browser context, see NewContext.
func InContext(id string) NewTabOption {
	return func(m map[string]interface{}) {
		m["browserContextId"] = id
	}
}

// NewTab opens a tab at urlstr, about:blank when empty. When the browser
// refuses Target.createTarget the tab is opened with window.open from the
// latest tab.
func (b *Browser) NewTab(ctx context.Context, urlstr string, opts ...NewTabOption) (*Tab, error) {
	if urlstr == "" {
		urlstr = "about:blank"
	}
	params := map[string]interface{}{"url": urlstr}
	for _, o := range opts {
		o(params)
	}
	res, err := b.Call(ctx, "Target.createTarget", params)
	if err == nil {
		id := res.Get("targetId").String()
		b.setFrame(id, id)
		return b.GetTab(ctx, id)
	}
	b.log.WithError(err).Warn("createTarget refused, falling back to window.open")

	latest, lerr := b.LatestTab(ctx)
	if lerr != nil {
		return nil, err
	}
	ch := b.subscribe()
	defer b.unsubscribe(ch)
	if _, err := latest.RunJS(ctx, "window.open(arguments[0])", urlstr); err != nil {
		return nil, err
	}
	select {
	case id := <-ch:
		return b.GetTab(ctx, id)
	case <-time.After(b.timeouts.Base):
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewContext creates an isolated browser context, the equivalent of an
// incognito profile.
func (b *Browser) NewContext(ctx context.Context) (string, error) {
	res, err := b.Call(ctx, "Target.createBrowserContext", map[string]bool{"disposeOnDetach": true})
	if err != nil {
		return "", err
	}
	return res.Get("browserContextId").String(), nil
}

func (b *Browser) subscribe() chan string {
	ch := make(chan string, 1)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Browser) unsubscribe(ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := slices.Index(b.subs, ch); i != -1 {
		b.subs = slices.Delete(b.subs, i, i+1)
	}
}

// WaitNewTab waits for the next tab to appear and returns its id.
func (b *Browser) WaitNewTab(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = b.timeouts.Base
	}
	ch := b.subscribe()
	defer b.unsubscribe(ch)
	select {
	case id := <-ch:
		return id, nil
	case <-time.After(timeout):
		if b.settings.RaiseWhenWaitFailed() {
			return "", ErrWaitTimeout
		}
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// GetTab returns the tab with the given id. With singleton tabs enabled
// every call returns the same object.
func (b *Browser) GetTab(ctx context.Context, id string) (*Tab, error) {
	single := b.settings.SingletonTabObj()
	if single {
		b.mu.RLock()
		t, ok := b.tabs[id]
		b.mu.RUnlock()
		if ok && !t.closed.Load() {
			return t, nil
		}
	}
	t, err := newTab(ctx, b, id)
	if err != nil {
		return nil, err
	}
	if single {
		b.mu.Lock()
		if prev, ok := b.tabs[id]; ok && !prev.closed.Load() {
			b.mu.Unlock()
			t.detach()
			return prev, nil
		}
		b.tabs[id] = t
		b.mu.Unlock()
	}
	return t, nil
}

// TabFilter selects tabs by title, URL substring and type. Empty fields
// match everything.
type TabFilter struct {
	Title string
	URL   string
	Types []string
}

func (f TabFilter) match(t *client.Target) bool {
	if f.Title != "" && !strings.Contains(t.Title, f.Title) {
		return false
	}
	if f.URL != "" && !strings.Contains(t.URL, f.URL) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, string(t.Type)) {
		return false
	}
	return true
}

// GetTabs returns the tabs matching f in visual order.
func (b *Browser) GetTabs(ctx context.Context, f TabFilter) ([]*Tab, error) {
	targets, err := b.client.ListPageTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	var tabs []*Tab
	for _, t := range targets {
		if !f.match(t) {
			continue
		}
		tab, err := b.GetTab(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, tab)
	}
	return tabs, nil
}

// ActivateTab brings a tab to the front.
func (b *Browser) ActivateTab(ctx context.Context, id string) error {
	_, err := b.Call(ctx, "Target.activateTarget", map[string]string{"targetId": id})
	return err
}

// CloseTabs closes the given tabs, or every other tab when others is true.
func (b *Browser) CloseTabs(ctx context.Context, ids []string, others bool) error {
	if others {
		all, err := b.TabIDs(ctx)
		if err != nil {
			return err
		}
		var rest []string
		for _, id := range all {
			if !slices.Contains(ids, id) {
				rest = append(rest, id)
			}
		}
		ids = rest
	}
	total, err := b.TabsCount(ctx)
	if err != nil {
		return err
	}

	eg, egctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			_, err := b.Call(egctx, "Target.closeTarget", map[string]string{"targetId": id})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	want := total - len(ids)
	return Retry{Interval: 100 * time.Millisecond, Deadline: b.timeouts.Base}.Do(ctx, func(ctx context.Context) error {
		n, err := b.TabsCount(ctx)
		if err != nil {
			return stop(err)
		}
		if n > want {
			return errRetry
		}
		return nil
	})
}

// Cookies returns the cookies of every domain.
func (b *Browser) Cookies(ctx context.Context) ([]*Cookie, error) {
	res, err := b.Call(ctx, "Storage.getCookies", nil)
	if err != nil {
		return nil, err
	}
	return parseCookies(res.Get("cookies")), nil
}

// SetCookies stores cookies browser wide.
func (b *Browser) SetCookies(ctx context.Context, cookies ...*Cookie) error {
	params, err := cookieParams(cookies, "")
	if err != nil {
		return err
	}
	_, err = b.Call(ctx, "Storage.setCookies", map[string]interface{}{"cookies": params})
	return err
}

// ClearCache clears the HTTP cache and, when cookies is true, every cookie.
func (b *Browser) ClearCache(ctx context.Context, cookies bool) error {
	tab, err := b.LatestTab(ctx)
	if err != nil {
		return err
	}
	if _, err := tab.call(ctx, "Network.clearBrowserCache", nil); err != nil {
		return err
	}
	if cookies {
		_, err = b.Call(ctx, "Storage.clearCookies", nil)
	}
	return err
}

// SetDownloadPath sets the default directory downloads are moved to.
func (b *Browser) SetDownloadPath(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	b.downloads.setDefaultPath(abs)
	return b.setDownloadBehavior(ctx)
}

// ProcessID returns the browser process id.
func (b *Browser) ProcessID(ctx context.Context) (int64, error) {
	if b.runner != nil {
		return int64(b.runner.PID()), nil
	}
	res, err := b.Call(ctx, "SystemInfo.getProcessInfo", nil)
	if err != nil {
		return 0, err
	}
	for _, p := range res.Get("processInfo").Array() {
		if p.Get("type").String() == "browser" {
			return p.Get("id").Int(), nil
		}
	}
	return 0, ErrTargetNotFound
}

// Quit closes the browser. With force set, a launched process is killed
// rather than asked to exit.
func (b *Browser) Quit(ctx context.Context, force bool) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.registry.remove(b)

	var err error
	if !force {
		_, err = b.driver().Call(ctx, "Browser.close", nil, driver.Ignore(driver.KindConnection), driver.Timeout(time.Second))
	}

	b.mu.Lock()
	var all []*driver.Driver
	for _, ds := range b.drivers {
		all = append(all, ds...)
	}
	tabs := make([]*Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		tabs = append(tabs, t)
	}
	b.drivers = make(map[string][]*driver.Driver)
	b.tabs = make(map[string]*Tab)
	b.mu.Unlock()
	for _, d := range all {
		d.Stop()
	}
	for _, t := range tabs {
		t.detach()
	}
	b.stopDriver()
	b.downloads.wg.Wait()

	if b.runner != nil {
		if force || err != nil {
			_ = b.runner.Kill()
		}
		_ = b.runner.Wait()
		if cerr := b.runner.Cleanup(ctx); cerr != nil {
			b.log.WithError(cerr).Warn("could not remove profile directory")
		}
	}
	if rerr := b.fs.RemoveAll(b.tmpPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		b.log.WithError(rerr).Debug("could not remove download directory")
	}
	return err
}

// Registry deduplicates browsers by id.
type Registry struct {
	mu       sync.Mutex
	browsers map[string]*Browser
}

// DefaultRegistry is used unless WithRegistry is given.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{browsers: make(map[string]*Browser)}
}

// Get returns the live browser with the given id.
func (r *Registry) Get(id string) *Browser {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.browsers[id]
	if b != nil && b.closed.Load() {
		delete(r.browsers, id)
		return nil
	}
	return b
}

func (r *Registry) add(b *Browser) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.browsers[b.id]; ok && !prev.closed.Load() {
		return false
	}
	r.browsers[b.id] = b
	return true
}

func (r *Registry) remove(b *Browser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browsers[b.id] == b {
		delete(r.browsers, b.id)
	}
}
