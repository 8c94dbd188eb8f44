package session

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html/charset"
)

// Response is a fully read and decompressed HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	// URL is the final URL after redirects.
	URL     *url.URL
	Content []byte

	encoding string
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the body decoded to UTF-8. The charset comes from a forced
// encoding, the Content-Type header, or a sniff of the body, in that order.
func (r *Response) Text() string {
	if r.encoding != "" {
		if enc, _ := charset.Lookup(r.encoding); enc != nil {
			if out, err := enc.NewDecoder().Bytes(r.Content); err == nil {
				return string(out)
			}
		}
	}
	enc, _, _ := charset.DetermineEncoding(r.Content, r.Header.Get("Content-Type"))
	out, err := enc.NewDecoder().Bytes(r.Content)
	if err != nil {
		return string(r.Content)
	}
	return string(out)
}

// JSON parses the body as JSON.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Content)
}

// MediaType returns the media type of the body, without parameters.
func (r *Response) MediaType() string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// Page parses the body as an HTML document.
func (r *Response) Page() (*Page, error) {
	return ParseHTML(r.Text(), r.URL)
}

// decodeBody undoes each content coding, last applied first.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	if encoding == "" || len(body) == 0 {
		return body, nil
	}
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		var rd io.Reader
		switch coding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("session: gzip: %w", err)
			}
			rd = zr
		case "deflate":
			// servers disagree on zlib wrapped or raw deflate
			if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
				rd = zr
			} else {
				rd = flate.NewReader(bytes.NewReader(body))
			}
		case "br":
			rd = brotli.NewReader(bytes.NewReader(body))
		case "zstd":
			zr, err := zstd.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("session: zstd: %w", err)
			}
			out, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("session: zstd: %w", err)
			}
			body = out
			continue
		default:
			return nil, fmt.Errorf("session: unsupported content encoding %q", coding)
		}
		out, err := io.ReadAll(rd)
		if err != nil {
			return nil, fmt.Errorf("session: %s: %w", coding, err)
		}
		body = out
	}
	return body, nil
}
