// Package cdptest provides a fake browser speaking the Chrome DevTools
// Protocol over HTTP and websocket, for tests that must not start Chrome.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// DefaultUserAgent is reported by /json/version.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36"

// Target is a page target known to the fake browser.
type Target struct {
	ID    string
	Type  string
	Title string
	URL   string
}

// Request is a command received from a client.
type Request struct {
	ID        int64
	Method    string
	SessionID string
	Params    json.RawMessage
	// TargetID is the id in the websocket path, the browser id for the
	// browser endpoint.
	TargetID string
	Conn     *Conn

	after []func()
}

// Get returns the value at the gjson path in the params.
func (r *Request) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Params, path)
}

// Then schedules fn to run once the reply has been written.
func (r *Request) Then(fn func()) {
	r.after = append(r.after, fn)
}

// Error is returned by a HandlerFunc to produce an error reply.
type Error struct {
	Code    int64
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// HandlerFunc produces the result for a command. A nil result replies {}.
// Returning NoReply suppresses the reply.
type HandlerFunc func(req *Request) (interface{}, error)

// NoReply makes the server swallow a command.
var NoReply = &Error{Code: 0, Message: "no reply"}

// Server is a fake browser.
type Server struct {
	*httptest.Server

	BrowserID string

	t testing.TB

	mu        sync.Mutex
	userAgent string
	targets   []*Target
	handlers  map[string]HandlerFunc
	conns     map[string][]*Conn
	calls     []*Request
	callSig   chan struct{}
}

// NewServer starts a fake browser with a single about:blank page.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		BrowserID: uuid.NewString(),
		userAgent: DefaultUserAgent,
		t:         t,
		handlers:  make(map[string]HandlerFunc),
		conns:     make(map[string][]*Conn),
		callSig:   make(chan struct{}, 1),
	}
	s.targets = []*Target{{ID: newTargetID(), Type: "page", Title: "about:blank", URL: "about:blank"}}
	s.installDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", s.serveVersion)
	mux.HandleFunc("/json", s.serveList)
	mux.HandleFunc("/json/list", s.serveList)
	mux.HandleFunc("/json/new", s.serveNew)
	mux.HandleFunc("/devtools/", s.serveWS)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Close shuts down every websocket and the HTTP server.
func (s *Server) Close() {
	s.mu.Lock()
	var all []*Conn
	for _, cs := range s.conns {
		all = append(all, cs...)
	}
	s.conns = make(map[string][]*Conn)
	s.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
	s.Server.Close()
}

// Addr returns host:port of the debugging endpoint.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// Handle replaces the handler for method.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// Targets returns a snapshot of the page targets.
func (s *Server) Targets() []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, *t)
	}
	return out
}

// FirstTarget returns the id of the first page.
func (s *Server) FirstTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[0].ID
}

// AddTarget registers a page and announces it to browser connections.
func (s *Server) AddTarget(t Target) Target {
	if t.ID == "" {
		t.ID = newTargetID()
	}
	if t.Type == "" {
		t.Type = "page"
	}
	s.mu.Lock()
	s.targets = append(s.targets, &t)
	s.mu.Unlock()
	s.EmitBrowser("Target.targetCreated", map[string]interface{}{"targetInfo": targetInfo(&t)})
	return t
}

// RemoveTarget drops a page, closes its connections and announces it.
func (s *Server) RemoveTarget(id string) bool {
	s.mu.Lock()
	found := false
	for i, t := range s.targets {
		if t.ID == id {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			found = true
			break
		}
	}
	conns := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if !found {
		return false
	}
	for _, c := range conns {
		c.Close()
	}
	s.EmitBrowser("Target.targetDestroyed", map[string]string{"targetId": id})
	return true
}

// Emit sends an event to every connection of the target.
func (s *Server) Emit(targetID, method string, params interface{}) {
	s.mu.Lock()
	conns := append([]*Conn(nil), s.conns[targetID]...)
	s.mu.Unlock()
	for _, c := range conns {
		c.Emit(method, params)
	}
}

// EmitBrowser sends an event to every browser connection.
func (s *Server) EmitBrowser(method string, params interface{}) {
	s.Emit(s.BrowserID, method, params)
}

// Connections returns the number of live websockets for the target.
func (s *Server) Connections(targetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns[targetID])
}

// Calls returns the commands received for method, in order.
func (s *Server) Calls(method string) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.calls {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// WaitCall blocks until method has been received n times.
func (s *Server) WaitCall(method string, n int, timeout time.Duration) []*Request {
	s.t.Helper()
	deadline := time.After(timeout)
	for {
		if calls := s.Calls(method); len(calls) >= n {
			return calls
		}
		select {
		case <-s.callSig:
		case <-deadline:
			s.t.Fatalf("%s received %d times, want %d", method, len(s.Calls(method)), n)
			return nil
		}
	}
}

// SetUserAgent changes the user agent reported by the endpoint.
func (s *Server) SetUserAgent(ua string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userAgent = ua
}

// UserAgent returns the reported user agent.
func (s *Server) UserAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userAgent
}

func (s *Server) serveVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"Browser":              "HeadlessChrome/120.0.0.0",
		"Protocol-Version":     "1.3",
		"User-Agent":           s.UserAgent(),
		"webSocketDebuggerUrl": fmt.Sprintf("ws://%s/devtools/browser/%s", r.Host, s.BrowserID),
	})
}

func (s *Server) serveList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]map[string]string, 0, len(s.targets))
	for _, t := range s.targets {
		list = append(list, map[string]string{
			"id":                   t.ID,
			"type":                 t.Type,
			"title":                t.Title,
			"url":                  t.URL,
			"webSocketDebuggerUrl": fmt.Sprintf("ws://%s/devtools/page/%s", r.Host, t.ID),
		})
	}
	s.mu.Unlock()
	writeJSON(w, list)
}

func (s *Server) serveNew(w http.ResponseWriter, r *http.Request) {
	u := r.URL.RawQuery
	if u == "" {
		u = "about:blank"
	}
	t := s.AddTarget(Target{URL: u, Title: u})
	writeJSON(w, map[string]string{"id": t.ID, "type": t.Type, "url": t.URL})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}
	kind, id := parts[1], parts[2]
	switch {
	case kind == "browser" && id == s.BrowserID:
	case kind == "page" && s.hasTarget(id):
	default:
		http.NotFound(w, r)
		return
	}

	nc, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.t.Logf("upgrade: %v", err)
		return
	}
	c := &Conn{conn: nc, targetID: id, server: s, closed: make(chan struct{})}
	s.mu.Lock()
	s.conns[id] = append(s.conns[id], c)
	s.mu.Unlock()

	go c.serve()
}

func (s *Server) hasTarget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) dropConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.conns[c.targetID]
	for i, o := range cs {
		if o == c {
			s.conns[c.targetID] = append(cs[:i], cs[i+1:]...)
			return
		}
	}
}

func (s *Server) dispatch(req *Request) (interface{}, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	fn := s.handlers[req.Method]
	s.mu.Unlock()

	select {
	case s.callSig <- struct{}{}:
	default:
	}

	if fn == nil {
		return nil, nil
	}
	return fn(req)
}

// Conn is one client websocket.
type Conn struct {
	conn     net.Conn
	targetID string
	server   *Server

	wmu    sync.Mutex
	once   sync.Once
	closed chan struct{}
}

// TargetID returns the id the connection is attached to.
func (c *Conn) TargetID() string {
	return c.targetID
}

// Emit writes an event.
func (c *Conn) Emit(method string, params interface{}) {
	c.write(map[string]interface{}{"method": method, "params": params})
}

// Close drops the connection.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Conn) write(v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		c.server.t.Errorf("marshal: %v", err)
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.closed:
		return
	default:
	}
	_ = wsutil.WriteServerText(c.conn, buf)
}

func (c *Conn) serve() {
	defer c.server.dropConn(c)
	defer c.Close()

	for {
		buf, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		req := &Request{Conn: c, TargetID: c.targetID}
		var raw struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(buf, &raw); err != nil {
			c.server.t.Errorf("unmarshal: %v", err)
			continue
		}
		req.ID, req.Method, req.SessionID, req.Params = raw.ID, raw.Method, raw.SessionID, raw.Params

		res, err := c.server.dispatch(req)
		switch e := err.(type) {
		case nil:
			if res == nil {
				res = struct{}{}
			}
			c.write(map[string]interface{}{"id": req.ID, "result": res})
		case *Error:
			if e != NoReply {
				c.write(map[string]interface{}{"id": req.ID, "error": map[string]interface{}{"code": e.Code, "message": e.Message}})
			}
		default:
			c.write(map[string]interface{}{"id": req.ID, "error": map[string]interface{}{"code": -32000, "message": err.Error()}})
		}
		for _, fn := range req.after {
			fn()
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTargetID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func targetInfo(t *Target) map[string]interface{} {
	return map[string]interface{}{
		"targetId": t.ID,
		"type":     t.Type,
		"title":    t.Title,
		"url":      t.URL,
		"attached": false,
	}
}
