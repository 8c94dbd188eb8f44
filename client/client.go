// Package client talks to the HTTP side of a Chrome DevTools Protocol
// debugging endpoint.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mailru/easyjson"
	"github.com/tidwall/gjson"
)

const (
	// DefaultAddress is the default debugging address.
	DefaultAddress = "127.0.0.1:9222"

	// DefaultWatchInterval is the default check duration.
	DefaultWatchInterval = 100 * time.Millisecond

	// DefaultWatchTimeout is the default watch timeout.
	DefaultWatchTimeout = 30 * time.Second
)

// Error is a client error.
type Error string

// Error satisfies the error interface.
func (err Error) Error() string {
	return string(err)
}

const (
	// ErrNoPageTarget is returned when no page appeared before the watch
	// timeout.
	ErrNoPageTarget Error = "no page target"

	// ErrNoDebuggerURL is returned when /json/version lacks a websocket URL.
	ErrNoDebuggerURL Error = "no webSocketDebuggerUrl in version info"
)

// Version is the /json/version document.
type Version struct {
	Browser              string
	ProtocolVersion      string
	UserAgent            string
	WebSocketDebuggerURL string
	// BrowserID is the final path segment of WebSocketDebuggerURL.
	BrowserID string
	Headless  bool
}

// Client is a Chrome DevTools Protocol HTTP client.
type Client struct {
	url     string
	check   time.Duration
	timeout time.Duration
	http    *http.Client
}

// New creates a new client.
func New(opts ...Option) *Client {
	c := &Client{
		url:     "http://" + DefaultAddress + "/json",
		check:   DefaultWatchInterval,
		timeout: DefaultWatchTimeout,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Address returns host:port of the endpoint.
func (c *Client) Address() string {
	return strings.TrimSuffix(strings.TrimPrefix(c.url, "http://"), "/json")
}

// doReq executes a request.
func (c *Client) doReq(ctx context.Context, method, action string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url+"/"+action, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: %s: %s", method, action, res.Status, strings.TrimSpace(string(body)))
	}
	if v == nil {
		return nil
	}
	if z, ok := v.(easyjson.Unmarshaler); ok {
		return easyjson.Unmarshal(body, z)
	}
	return json.Unmarshal(body, v)
}

// Version returns the /json/version document.
func (c *Client) Version(ctx context.Context) (*Version, error) {
	var raw json.RawMessage
	if err := c.doReq(ctx, http.MethodGet, "version", &raw); err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(raw)
	v := &Version{
		Browser:              res.Get("Browser").String(),
		ProtocolVersion:      res.Get("Protocol-Version").String(),
		UserAgent:            res.Get("User-Agent").String(),
		WebSocketDebuggerURL: res.Get("webSocketDebuggerUrl").String(),
	}
	if v.WebSocketDebuggerURL == "" {
		return nil, ErrNoDebuggerURL
	}
	v.BrowserID = v.WebSocketDebuggerURL[strings.LastIndex(v.WebSocketDebuggerURL, "/")+1:]
	v.Headless = strings.Contains(strings.ToLower(v.UserAgent), "headless")
	return v, nil
}

// ListTargets returns every target, in the browser's visual order.
func (c *Client) ListTargets(ctx context.Context) ([]*Target, error) {
	var l Targets
	if err := c.doReq(ctx, http.MethodGet, "list", &l); err != nil {
		return nil, err
	}
	return l, nil
}

// ListPageTargets lists page and webview targets, leaving out devtools
// windows.
func (c *Client) ListPageTargets(ctx context.Context) ([]*Target, error) {
	targets, err := c.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	var ret []*Target
	for _, t := range targets {
		if t.IsPage() {
			ret = append(ret, t)
		}
	}
	return ret, nil
}

// NewPageTarget opens a new page with the specified url.
func (c *Client) NewPageTarget(ctx context.Context, urlstr string) (*Target, error) {
	u := "new"
	if urlstr != "" {
		u += "?" + urlstr
	}
	t := new(Target)
	if err := c.doReq(ctx, http.MethodPut, u, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ActivateTarget activates a target.
func (c *Client) ActivateTarget(ctx context.Context, id string) error {
	return c.doReq(ctx, http.MethodGet, "activate/"+id, nil)
}

// CloseTarget closes a target.
func (c *Client) CloseTarget(ctx context.Context, id string) error {
	return c.doReq(ctx, http.MethodGet, "close/"+id, nil)
}

// WaitPageTarget polls the endpoint until at least one page target is
// listed, the watch timeout expires or ctx is done.
func (c *Client) WaitPageTarget(ctx context.Context) ([]*Target, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for {
		targets, err := c.ListPageTargets(ctx)
		switch {
		case err != nil:
			lastErr = err
		case len(targets) > 0:
			return targets, nil
		}

		select {
		case <-time.After(c.check):
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoPageTarget, lastErr)
			}
			return nil, ErrNoPageTarget
		}
	}
}

// Reachable reports whether something answers /json/version.
func (c *Client) Reachable(ctx context.Context) bool {
	_, err := c.Version(ctx)
	return err == nil
}

// Option is a client option.
type Option func(*Client)

// Address is a client option to specify the host:port of the endpoint.
func Address(addr string) Option {
	return URL("http://" + addr + "/json")
}

// URL is a client option to specify the remote Chrome DevTools Protocol
// instance to connect to.
func URL(urlstr string) Option {
	return func(c *Client) {
		// since chrome 66+, dev tools requires the host name to be either an
		// IP address, or "localhost"
		if strings.HasPrefix(strings.ToLower(urlstr), "http://") {
			host, port, path := urlstr[7:], "", ""
			if i := strings.Index(host, "/"); i != -1 {
				host, path = host[:i], host[i:]
			}
			if h, p, err := net.SplitHostPort(host); err == nil {
				host, port = h, ":"+p
			}
			if addr, err := net.ResolveIPAddr("ip", host); err == nil && addr.IP.To4() != nil {
				host = addr.IP.String()
			}
			urlstr = "http://" + host + port + path
		}
		c.url = urlstr
	}
}

// HTTPClient sets the http.Client used for requests.
func HTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WatchInterval is a client option that specifies the check interval duration.
func WatchInterval(check time.Duration) Option {
	return func(c *Client) {
		c.check = check
	}
}

// WatchTimeout is a client option that specifies the watch timeout duration.
func WatchTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}
