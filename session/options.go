package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Option is a session option.
type Option = func(*Session) error

// WithHTTPClient uses cl for requests. When cl has no cookie jar the session
// jar is attached.
func WithHTTPClient(cl *http.Client) Option {
	return func(s *Session) error {
		s.client = cl
		return nil
	}
}

// WithHeaders merges default request headers.
func WithHeaders(h http.Header) Option {
	return func(s *Session) error {
		for k, v := range h {
			s.headers[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
		return nil
	}
}

// WithRawHeaders merges "Name: value" header lines.
func WithRawHeaders(raw string) Option {
	return WithHeaders(splitHeader(raw))
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Session) error {
		s.headers.Set("User-Agent", ua)
		return nil
	}
}

// WithProxy routes requests through the proxy at proxyURL.
func WithProxy(proxyURL string) Option {
	return func(s *Session) error {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return fmt.Errorf("session: bad proxy %q: %w", proxyURL, err)
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = http.ProxyURL(u)
		s.client.Transport = tr
		return nil
	}
}

// WithTimeout sets the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) error {
		s.timeout = d
		return nil
	}
}

// WithRetry sets the number of retries and the wait between attempts.
func WithRetry(times int, interval time.Duration) Option {
	return func(s *Session) error {
		if times < 0 {
			return errors.New("session: negative retry count")
		}
		s.retry, s.interval = times, interval
		return nil
	}
}

// WithEncoding forces the charset used to decode response text.
func WithEncoding(name string) Option {
	return func(s *Session) error {
		s.encoding = name
		return nil
	}
}

// WithCookies seeds the jar with cookies for u.
func WithCookies(u *url.URL, cookies []*http.Cookie) Option {
	return func(s *Session) error {
		s.jar.SetCookies(u, cookies)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) error {
		s.log = l
		return nil
	}
}

type requestConfig struct {
	retry       int
	interval    time.Duration
	timeout     time.Duration
	encoding    string
	headers     http.Header
	params      url.Values
	body        []byte
	contentType string
}

// RequestOption adjusts a single request.
type RequestOption = func(*requestConfig) error

// Header sets a request header.
func Header(name, value string) RequestOption {
	return func(rc *requestConfig) error {
		rc.headers.Set(name, value)
		return nil
	}
}

// Params adds query parameters.
func Params(v url.Values) RequestOption {
	return func(rc *requestConfig) error {
		rc.params = v
		return nil
	}
}

// Data sets a raw body.
func Data(body []byte, contentType string) RequestOption {
	return func(rc *requestConfig) error {
		rc.body, rc.contentType = body, contentType
		return nil
	}
}

// Form sets a urlencoded form body.
func Form(v url.Values) RequestOption {
	return Data([]byte(v.Encode()), "application/x-www-form-urlencoded")
}

// JSON sets a JSON body.
func JSON(v interface{}) RequestOption {
	return func(rc *requestConfig) error {
		buf, err := json.Marshal(v)
		if err != nil {
			return err
		}
		rc.body, rc.contentType = buf, "application/json"
		return nil
	}
}

// Text sets a plain text body.
func Text(s string) RequestOption {
	return Data([]byte(s), "text/plain; charset=utf-8")
}

// Retry overrides the retry count and interval for one request.
func Retry(times int, interval time.Duration) RequestOption {
	return func(rc *requestConfig) error {
		if times < 0 {
			return errors.New("session: negative retry count")
		}
		rc.retry, rc.interval = times, interval
		return nil
	}
}

// Timeout overrides the timeout for one request.
func Timeout(d time.Duration) RequestOption {
	return func(rc *requestConfig) error {
		rc.timeout = d
		return nil
	}
}

// Encoding forces the charset for one response.
func Encoding(name string) RequestOption {
	return func(rc *requestConfig) error {
		rc.encoding = strings.TrimSpace(name)
		return nil
	}
}
