package client

import (
	"strings"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// TargetType are the types of targets available in Chrome.
type TargetType string

// TargetType values.
const (
	BackgroundPage TargetType = "background_page"
	Browser        TargetType = "browser"
	IFrame         TargetType = "iframe"
	Other          TargetType = "other"
	Page           TargetType = "page"
	ServiceWorker  TargetType = "service_worker"
	SharedWorker   TargetType = "shared_worker"
	Webview        TargetType = "webview"
	Worker         TargetType = "worker"
)

// String satisfies stringer.
func (tt TargetType) String() string {
	return string(tt)
}

// MarshalEasyJSON satisfies easyjson.Marshaler.
func (tt TargetType) MarshalEasyJSON(out *jwriter.Writer) {
	out.String(string(tt))
}

// MarshalJSON satisfies json.Marshaler.
func (tt TargetType) MarshalJSON() ([]byte, error) {
	return easyjson.Marshal(tt)
}

// UnmarshalEasyJSON satisfies easyjson.Unmarshaler. Types this package does
// not know are kept as Other.
func (tt *TargetType) UnmarshalEasyJSON(in *jlexer.Lexer) {
	switch v := TargetType(in.String()); v {
	case BackgroundPage, Browser, IFrame, Page, ServiceWorker, SharedWorker, Webview, Worker:
		*tt = v
	default:
		*tt = Other
	}
}

// UnmarshalJSON satisfies json.Unmarshaler.
func (tt *TargetType) UnmarshalJSON(buf []byte) error {
	return easyjson.Unmarshal(buf, tt)
}

// Target is one entry of the /json listing.
type Target struct {
	ID                   string
	Type                 TargetType
	Title                string
	URL                  string
	WebSocketDebuggerURL string
}

// IsPage reports whether the target is a user visible page.
func (t *Target) IsPage() bool {
	return (t.Type == Page || t.Type == Webview) && !strings.HasPrefix(t.URL, "devtools://")
}

// UnmarshalEasyJSON satisfies easyjson.Unmarshaler.
func (t *Target) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			t.ID = in.String()
		case "type":
			t.Type.UnmarshalEasyJSON(in)
		case "title":
			t.Title = in.String()
		case "url":
			t.URL = in.String()
		case "webSocketDebuggerUrl":
			t.WebSocketDebuggerURL = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

// UnmarshalJSON satisfies json.Unmarshaler.
func (t *Target) UnmarshalJSON(buf []byte) error {
	return easyjson.Unmarshal(buf, t)
}

// Targets is a /json listing.
type Targets []*Target

// UnmarshalEasyJSON satisfies easyjson.Unmarshaler.
func (ts *Targets) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		*ts = nil
		return
	}
	in.Delim('[')
	*ts = (*ts)[:0]
	for !in.IsDelim(']') {
		t := new(Target)
		t.UnmarshalEasyJSON(in)
		*ts = append(*ts, t)
		in.WantComma()
	}
	in.Delim(']')
}
