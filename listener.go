package drission

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/exp/slices"

	"github.com/chromedp/drission/driver"
)

// RequestInfo is the request half of a DataPacket.
type RequestInfo struct {
	URL      string
	Method   string
	Headers  map[string]string
	PostData string
	// ExtraHeaders are the headers actually sent, cookies included.
	ExtraHeaders map[string]string
	raw          gjson.Result
}

// Raw returns the Network.Request object.
func (r *RequestInfo) Raw() gjson.Result {
	return r.raw
}

// ResponseInfo is the response half of a DataPacket.
type ResponseInfo struct {
	URL        string
	Status     int
	StatusText string
	MimeType   string
	Headers    map[string]string
	// ExtraHeaders are the raw headers received, set-cookie included.
	ExtraHeaders map[string]string
	// Body is the response body, decoded when the browser sent it base64
	// encoded.
	Body       []byte
	Base64Body bool
	raw        gjson.Result
}

// Raw returns the Network.Response object.
func (r *ResponseInfo) Raw() gjson.Result {
	return r.raw
}

// Text returns the body as a string.
func (r *ResponseInfo) Text() string {
	return string(r.Body)
}

// JSON parses the body.
func (r *ResponseInfo) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// FailInfo describes a request that failed to load.
type FailInfo struct {
	ErrorText     string
	Canceled      bool
	BlockedReason string
	CORSError     string
}

// DataPacket is a captured request and its response.
type DataPacket struct {
	TabID        string
	RequestID    string
	FrameID      string
	Target       string
	ResourceType string
	Request      *RequestInfo
	Response     *ResponseInfo
	FailInfo     *FailInfo

	// extraPending is set while the response extra info may still come.
	extraPending bool
}

// URL returns the request URL.
func (d *DataPacket) URL() string {
	return d.Request.URL
}

// Method returns the request method.
func (d *DataPacket) Method() string {
	return d.Request.Method
}

// IsFailed reports whether the request failed.
func (d *DataPacket) IsFailed() bool {
	return d.FailInfo != nil
}

func (d *DataPacket) String() string {
	return fmt.Sprintf("<DataPacket %s %s>", d.Request.Method, d.Request.URL)
}

// extraInfoWait bounds how long a finished packet waits for a late
// responseReceivedExtraInfo.
const extraInfoWait = 300 * time.Millisecond

// extraInfo stages the extra info events of a request until the main
// events arrive.
type extraInfo struct {
	request  map[string]string
	response map[string]string
}

// ListenOption configures which requests a Listener captures.
type ListenOption func(*listenFilter)

type listenFilter struct {
	targets []string
	res     []*regexp.Regexp
	regex   bool
	methods []string
	types   []string
}

// ListenRegex treats the targets as regular expressions instead of
// substrings.
func ListenRegex(v bool) ListenOption {
	return func(f *listenFilter) {
		f.regex = v
	}
}

// ListenMethods captures only requests with the given HTTP methods.
func ListenMethods(methods ...string) ListenOption {
	return func(f *listenFilter) {
		f.methods = nil
		for _, m := range methods {
			f.methods = append(f.methods, strings.ToUpper(m))
		}
	}
}

// ListenResourceTypes captures only the given resource types, such as
// "Document", "XHR" or "Fetch".
func ListenResourceTypes(types ...string) ListenOption {
	return func(f *listenFilter) {
		f.types = nil
		for _, t := range types {
			f.types = append(f.types, strings.ToLower(t))
		}
	}
}

// match returns the target the request matched, or false. With no targets
// every URL matches with an empty target.
func (f *listenFilter) match(urlstr, method, typ string) (string, bool) {
	if len(f.methods) > 0 && !slices.Contains(f.methods, strings.ToUpper(method)) {
		return "", false
	}
	if len(f.types) > 0 && !slices.Contains(f.types, strings.ToLower(typ)) {
		return "", false
	}
	if len(f.targets) == 0 {
		return "", true
	}
	for i, t := range f.targets {
		if f.regex {
			if f.res[i].MatchString(urlstr) {
				return t, true
			}
		} else if strings.Contains(urlstr, t) {
			return t, true
		}
	}
	return "", false
}

// Listener captures the network traffic of a tab on its own connection.
type Listener struct {
	t   *Tab
	log *logrus.Entry

	mu       sync.Mutex
	drv      *driver.Driver
	filter   listenFilter
	paused   bool
	packets  map[string]*DataPacket
	extra    map[string]*extraInfo
	held     map[string]*time.Timer
	running  map[string]bool
	queue    []*DataPacket
	changed  chan struct{}
	requests int
	targets  int
}

func newListener(t *Tab) *Listener {
	return &Listener{
		t:       t,
		log:     t.log.WithField("component", "listener"),
		filter:  listenFilter{methods: []string{"GET", "POST"}},
		packets: make(map[string]*DataPacket),
		extra:   make(map[string]*extraInfo),
		held:    make(map[string]*time.Timer),
		running: make(map[string]bool),
		changed: make(chan struct{}),
	}
}

// broadcast wakes the waiters. Must hold l.mu.
func (l *Listener) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// SetTargets sets the URL patterns to capture. No targets capture every
// request. Methods default to GET and POST, resource types to all.
func (l *Listener) SetTargets(targets []string, opts ...ListenOption) error {
	f := listenFilter{targets: targets, methods: []string{"GET", "POST"}}
	for _, o := range opts {
		o(&f)
	}
	if f.regex {
		for _, t := range targets {
			re, err := regexp.Compile(t)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			f.res = append(f.res, re)
		}
	}
	l.mu.Lock()
	l.filter = f
	l.mu.Unlock()
	return nil
}

// Start begins capturing. A running listener is restarted and its queue
// cleared.
func (l *Listener) Start(ctx context.Context, targets []string, opts ...ListenOption) error {
	if targets != nil || len(opts) > 0 {
		if err := l.SetTargets(targets, opts...); err != nil {
			return err
		}
	}
	l.Stop()
	drv, err := l.t.b.newDriver(ctx, l.t.tabID, l.t.targetID, logrus.Fields{"tab": l.t.tabID, "component": "listener"})
	if err != nil {
		return err
	}
	drv.SetCallback("Network.requestWillBeSent", l.onRequest, false)
	drv.SetCallback("Network.requestWillBeSentExtraInfo", l.onRequestExtra, false)
	drv.SetCallback("Network.responseReceived", l.onResponse, false)
	drv.SetCallback("Network.responseReceivedExtraInfo", l.onResponseExtra, false)
	drv.SetCallback("Network.loadingFinished", func(ev *driver.Event) { l.onFinished(drv, ev) }, false)
	drv.SetCallback("Network.loadingFailed", l.onFailed, false)
	if _, err := drv.Call(ctx, "Network.enable", nil); err != nil {
		drv.Stop()
		return wrapErr(err)
	}
	l.mu.Lock()
	l.drv = drv
	l.paused = false
	l.mu.Unlock()
	l.log.Debug("listening")
	return nil
}

// Stop ends capturing and drops everything captured.
func (l *Listener) Stop() {
	l.mu.Lock()
	drv := l.drv
	l.drv = nil
	l.reset()
	l.queue = nil
	l.broadcast()
	l.mu.Unlock()
	if drv != nil {
		drv.Stop()
	}
}

// reset drops the in-flight state. Must hold l.mu.
func (l *Listener) reset() {
	for _, t := range l.held {
		t.Stop()
	}
	l.held = make(map[string]*time.Timer)
	l.packets = make(map[string]*DataPacket)
	l.extra = make(map[string]*extraInfo)
	l.running = make(map[string]bool)
	l.requests, l.targets = 0, 0
}

// Pause stops queueing packets; with clear set the queue is emptied.
func (l *Listener) Pause(clear bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
	if clear {
		l.queue = nil
	}
}

// Resume queues packets again after Pause.
func (l *Listener) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
}

// Listening reports whether the listener runs.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv != nil
}

// Clear empties the queue.
func (l *Listener) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = nil
}

// Running returns the number of requests in flight, all of them and those
// matching the targets.
func (l *Listener) Running() (requests, targets int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests, l.targets
}

func headerMap(r gjson.Result) map[string]string {
	m := make(map[string]string)
	r.ForEach(func(k, v gjson.Result) bool {
		m[k.String()] = v.String()
		return true
	})
	return m
}

func (l *Listener) onRequest(ev *driver.Event) {
	id := ev.Get("requestId").String()
	req := ev.Get("request")

	l.mu.Lock()
	defer l.mu.Unlock()
	if redirect := ev.Get("redirectResponse"); redirect.Exists() {
		// the previous hop of a redirect chain ends here
		if p := l.packets[id]; p != nil {
			p.Response = responseInfo(redirect)
			l.publish(id, p)
		}
		l.finish(id)
	}
	if !l.running[id] {
		l.running[id] = true
		l.requests++
	}
	target, ok := l.filter.match(req.Get("url").String(), req.Get("method").String(), ev.Get("type").String())
	if !ok {
		return
	}
	l.targets++
	p := &DataPacket{
		TabID:        l.t.tabID,
		RequestID:    id,
		FrameID:      ev.Get("frameId").String(),
		Target:       target,
		ResourceType: ev.Get("type").String(),
		Request: &RequestInfo{
			URL:      req.Get("url").String() + req.Get("urlFragment").String(),
			Method:   req.Get("method").String(),
			Headers:  headerMap(req.Get("headers")),
			PostData: postData(req),
			raw:      req,
		},
	}
	if x := l.extra[id]; x != nil && x.request != nil {
		p.Request.ExtraHeaders = x.request
	}
	l.packets[id] = p
}

// postData joins the request body, which newer browsers send as entries.
func postData(req gjson.Result) string {
	if s := req.Get("postData"); s.Exists() {
		return s.String()
	}
	var b strings.Builder
	for _, e := range req.Get("postDataEntries").Array() {
		raw, err := base64.StdEncoding.DecodeString(e.Get("bytes").String())
		if err != nil {
			continue
		}
		b.Write(raw)
	}
	return b.String()
}

func (l *Listener) onRequestExtra(ev *driver.Event) {
	id := ev.Get("requestId").String()
	h := headerMap(ev.Get("headers"))
	l.mu.Lock()
	defer l.mu.Unlock()
	if p := l.packets[id]; p != nil {
		p.Request.ExtraHeaders = h
	}
	l.stage(id).request = h
}

// stage returns the staging record of id. Must hold l.mu.
func (l *Listener) stage(id string) *extraInfo {
	x := l.extra[id]
	if x == nil {
		x = new(extraInfo)
		l.extra[id] = x
	}
	return x
}

func responseInfo(r gjson.Result) *ResponseInfo {
	return &ResponseInfo{
		URL:        r.Get("url").String(),
		Status:     int(r.Get("status").Int()),
		StatusText: r.Get("statusText").String(),
		MimeType:   r.Get("mimeType").String(),
		Headers:    headerMap(r.Get("headers")),
		raw:        r,
	}
}

func (l *Listener) onResponse(ev *driver.Event) {
	id := ev.Get("requestId").String()
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.packets[id]
	if p == nil {
		return
	}
	p.Response = responseInfo(ev.Get("response"))
	if t := ev.Get("type").String(); t != "" {
		p.ResourceType = t
	}
	if x := l.extra[id]; x != nil && x.response != nil {
		p.Response.ExtraHeaders = x.response
	}
	// browsers say so when no extra info follows
	has := ev.Get("hasExtraInfo")
	p.extraPending = p.Response.ExtraHeaders == nil && (!has.Exists() || has.Bool())
}

func (l *Listener) onResponseExtra(ev *driver.Event) {
	id := ev.Get("requestId").String()
	h := headerMap(ev.Get("headers"))
	l.mu.Lock()
	defer l.mu.Unlock()
	if p := l.packets[id]; p != nil && p.Response != nil {
		p.Response.ExtraHeaders = h
		p.extraPending = false
		if t := l.held[id]; t != nil {
			// finished already, waiting only for this
			t.Stop()
			delete(l.held, id)
			l.publish(id, p)
			l.finish(id)
			return
		}
		if p.Request.ExtraHeaders != nil {
			delete(l.extra, id)
		}
		return
	}
	l.stage(id).response = h
}

func (l *Listener) onFinished(drv *driver.Driver, ev *driver.Event) {
	id := ev.Get("requestId").String()
	l.mu.Lock()
	p := l.packets[id]
	l.mu.Unlock()
	if p != nil {
		l.fetchBodies(drv, id, p)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p == nil || l.packets[id] != p {
		l.finish(id)
		return
	}
	if p.Response != nil && p.extraPending {
		l.hold(id, p)
		return
	}
	l.publish(id, p)
	l.finish(id)
}

// hold keeps a finished packet until its response extra info arrives or
// extraInfoWait passes. Must hold l.mu.
func (l *Listener) hold(id string, p *DataPacket) {
	l.done(id)
	l.held[id] = time.AfterFunc(extraInfoWait, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.packets[id] != p {
			return
		}
		delete(l.held, id)
		l.publish(id, p)
		l.finish(id)
	})
}

// fetchBodies reads a truncated request body and the response body.
func (l *Listener) fetchBodies(drv *driver.Driver, id string, p *DataPacket) {
	ctx, cancel := context.WithTimeout(context.Background(), l.t.Timeouts().Base)
	defer cancel()
	if p.Request.raw.Get("hasPostData").Bool() && p.Request.PostData == "" {
		res, err := drv.Call(ctx, "Network.getRequestPostData", map[string]string{"requestId": id}, driver.Ignore(driver.KindCallMethod))
		if err == nil {
			p.Request.PostData = res.Get("postData").String()
		}
	}
	if p.Response == nil {
		return
	}
	res, err := drv.Call(ctx, "Network.getResponseBody", map[string]string{"requestId": id}, driver.Ignore(driver.KindCallMethod))
	if err != nil || !res.Exists() {
		l.log.WithError(err).WithField("url", p.Request.URL).Debug("no response body")
		return
	}
	body := res.Get("body").String()
	p.Response.Base64Body = res.Get("base64Encoded").Bool()
	if p.Response.Base64Body {
		if raw, err := base64.StdEncoding.DecodeString(body); err == nil {
			p.Response.Body = raw
			return
		}
	}
	p.Response.Body = []byte(body)
}

func (l *Listener) onFailed(ev *driver.Event) {
	id := ev.Get("requestId").String()
	l.mu.Lock()
	defer l.mu.Unlock()
	if p := l.packets[id]; p != nil {
		p.FailInfo = &FailInfo{
			ErrorText:     ev.Get("errorText").String(),
			Canceled:      ev.Get("canceled").Bool(),
			BlockedReason: ev.Get("blockedReason").String(),
			CORSError:     ev.Get("corsErrorStatus.corsError").String(),
		}
		if p.ResourceType == "" {
			p.ResourceType = ev.Get("type").String()
		}
		l.publish(id, p)
	}
	l.finish(id)
}

// publish queues p. Must hold l.mu.
func (l *Listener) publish(id string, p *DataPacket) {
	if x := l.extra[id]; x != nil {
		if p.Request.ExtraHeaders == nil {
			p.Request.ExtraHeaders = x.request
		}
		if p.Response != nil && p.Response.ExtraHeaders == nil {
			p.Response.ExtraHeaders = x.response
		}
	}
	delete(l.packets, id)
	l.targets--
	if !l.paused {
		l.queue = append(l.queue, p)
	}
	l.broadcast()
}

// finish ends the tracking of id. Must hold l.mu.
func (l *Listener) finish(id string) {
	l.done(id)
	if p := l.packets[id]; p != nil {
		delete(l.packets, id)
		l.targets--
	}
	delete(l.extra, id)
	l.broadcast()
}

// done stops counting id as in flight. Must hold l.mu.
func (l *Listener) done(id string) {
	if l.running[id] {
		delete(l.running, id)
		l.requests--
	}
}

// Wait waits for count packets and removes them from the queue. On
// timeout the packets received so far are returned, or none when
// fitCount is set.
func (l *Listener) Wait(ctx context.Context, count int, timeout time.Duration, fitCount bool) ([]*DataPacket, error) {
	if count < 1 {
		count = 1
	}
	if timeout <= 0 {
		timeout = l.t.Timeouts().Base
	}
	if !l.Listening() {
		return nil, fmt.Errorf("%w: listener not started", ErrInvalidArgument)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		l.mu.Lock()
		if len(l.queue) >= count {
			out := slices.Clone(l.queue[:count])
			l.queue = slices.Delete(l.queue, 0, count)
			l.mu.Unlock()
			return out, nil
		}
		ch := l.changed
		l.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			l.mu.Lock()
			var out []*DataPacket
			if !fitCount && len(l.queue) > 0 {
				out = l.queue
				l.queue = nil
			}
			l.mu.Unlock()
			if out == nil && l.t.b.settings.RaiseWhenWaitFailed() {
				return nil, ErrWaitTimeout
			}
			return out, nil
		}
	}
}

// Steps streams packets in groups of gap as they arrive. The channel is
// closed when ctx ends, the listener stops or no group completes within
// timeout; a zero timeout waits forever.
func (l *Listener) Steps(ctx context.Context, gap int, timeout time.Duration) <-chan []*DataPacket {
	if gap < 1 {
		gap = 1
	}
	out := make(chan []*DataPacket)
	go func() {
		defer close(out)
		for {
			var after <-chan time.Time
			var t *time.Timer
			if timeout > 0 {
				t = time.NewTimer(timeout)
				after = t.C
			}
			group, ok := l.next(ctx, gap, after)
			if t != nil {
				t.Stop()
			}
			if !ok {
				return
			}
			select {
			case out <- group:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (l *Listener) next(ctx context.Context, n int, after <-chan time.Time) ([]*DataPacket, bool) {
	for {
		l.mu.Lock()
		if len(l.queue) >= n {
			out := slices.Clone(l.queue[:n])
			l.queue = slices.Delete(l.queue, 0, n)
			l.mu.Unlock()
			return out, true
		}
		stopped := l.drv == nil
		ch := l.changed
		l.mu.Unlock()
		if stopped {
			return nil, false
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, false
		case <-after:
			return nil, false
		}
	}
}

// WaitSilent waits until at most limit requests are in flight, counting
// only matching ones when targetsOnly is set.
func (l *Listener) WaitSilent(ctx context.Context, targetsOnly bool, limit int, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = l.t.Timeouts().Base
	}
	if !l.Listening() {
		return false, fmt.Errorf("%w: listener not started", ErrInvalidArgument)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		l.mu.Lock()
		n := l.requests
		if targetsOnly {
			n = l.targets
		}
		ch := l.changed
		l.mu.Unlock()
		if n <= limit {
			return true, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
			if l.t.b.settings.RaiseWhenWaitFailed() {
				return false, ErrWaitTimeout
			}
			return false, nil
		}
	}
}
