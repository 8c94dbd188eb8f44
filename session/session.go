// Package session performs plain HTTP requests that can share cookies with a
// browser tab, and parses the responses into static pages that understand the
// same locators as live pages.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout is the default per request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultRetry is the default number of retries after a failed attempt.
	DefaultRetry = 3

	// DefaultInterval is the default wait between attempts.
	DefaultInterval = 2 * time.Second

	// DefaultUserAgent is sent when no user agent is configured.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	acceptEncoding = "gzip, deflate, br, zstd"
)

// ErrNoResponse is returned when every attempt failed before a response was
// received.
var ErrNoResponse = errors.New("session: no response")

// Session issues GET and POST requests with retries, a cookie jar and
// transparent response decoding.
type Session struct {
	client   *http.Client
	jar      http.CookieJar
	mu       sync.RWMutex
	headers  http.Header
	retry    int
	interval time.Duration
	timeout  time.Duration
	encoding string
	log      logrus.FieldLogger
}

// New creates a session.
func New(opts ...Option) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	s := &Session{
		jar:      jar,
		headers:  make(http.Header),
		retry:    DefaultRetry,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		log:      logrus.StandardLogger(),
	}
	s.headers.Set("User-Agent", DefaultUserAgent)
	s.client = &http.Client{Jar: jar}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	if s.client.Jar == nil {
		s.client.Jar = s.jar
	}
	return s, nil
}

// Headers returns a copy of the default request headers.
func (s *Session) Headers() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone()
}

// SetHeader sets a default request header. An empty value removes it.
func (s *Session) SetHeader(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		s.headers.Del(name)
		return
	}
	s.headers.Set(name, value)
}

// SetCookies stores cookies for u in the jar.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.client.Jar.SetCookies(u, cookies)
}

// Cookies returns the cookies the jar would send to u.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.client.Jar.Cookies(u)
}

// Get issues a GET request.
func (s *Session) Get(ctx context.Context, urlstr string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodGet, urlstr, opts...)
}

// Post issues a POST request. Use Data, Form or JSON to set the body.
func (s *Session) Post(ctx context.Context, urlstr string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodPost, urlstr, opts...)
}

// Do issues a request, retrying transport failures.
func (s *Session) Do(ctx context.Context, method, urlstr string, opts ...RequestOption) (*Response, error) {
	rc := &requestConfig{
		retry:    s.retry,
		interval: s.interval,
		timeout:  s.timeout,
		encoding: s.encoding,
		headers:  make(http.Header),
	}
	for _, o := range opts {
		if err := o(rc); err != nil {
			return nil, err
		}
	}
	u, err := url.Parse(urlstr)
	if err != nil {
		return nil, fmt.Errorf("session: bad url %q: %w", urlstr, err)
	}
	if u.Scheme == "" {
		u, err = url.Parse("http://" + urlstr)
		if err != nil {
			return nil, fmt.Errorf("session: bad url %q: %w", urlstr, err)
		}
	}
	if len(rc.params) != 0 {
		q := u.Query()
		for k, v := range rc.params {
			q[k] = append(q[k], v...)
		}
		u.RawQuery = q.Encode()
	}

	log := s.log.WithField("url", u.String()).WithField("method", method)
	var res *Response
	attempt := 0
	op := func() error {
		attempt++
		r, err := s.once(ctx, method, u, rc)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Debug("request failed")
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		res = r
		return nil
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(rc.interval)
	b = backoff.WithMaxRetries(b, uint64(rc.retry))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		log.WithError(err).Warn("giving up after retries")
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNoResponse, method, u, err)
	}
	return res, nil
}

func (s *Session) once(ctx context.Context, method string, u *url.URL, rc *requestConfig) (*Response, error) {
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}
	var body io.Reader
	if rc.body != nil {
		body = bytes.NewReader(rc.body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	s.mu.RLock()
	for k, v := range s.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	s.mu.RUnlock()
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if rc.contentType != "" {
		req.Header.Set("Content-Type", rc.contentType)
	}
	for k, v := range rc.headers {
		req.Header[k] = v
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	content, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		URL:        resp.Request.URL,
		Content:    content,
		encoding:   rc.encoding,
	}, nil
}

// Close releases idle connections.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// splitHeader parses "Name: value" lines, as copied from browser dev tools.
func splitHeader(raw string) http.Header {
	h := make(http.Header)
	for _, line := range strings.Split(raw, "\n") {
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			continue
		}
		h.Add(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
	}
	return h
}
