// Package driver implements a Chrome DevTools Protocol connection to a single
// target: request/reply correlation, event dispatch and dialog tracking.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCallTimeout is the reply timeout used when neither the context nor
// the call carries one.
const DefaultCallTimeout = 30 * time.Second

const (
	eventDialogOpening = "Page.javascriptDialogOpening"
	eventDialogClosed  = "Page.javascriptDialogClosed"
)

var emptyObj = easyjson.RawMessage([]byte(`{}`))

// Event is a protocol event as received from the target.
type Event struct {
	Method    string
	SessionID target.SessionID
	Params    easyjson.RawMessage
}

// Decode unmarshals the event params into v, typically a cdproto event type.
func (ev *Event) Decode(v easyjson.Unmarshaler) error {
	return easyjson.Unmarshal(ev.Params, v)
}

// Get returns the value at the gjson path in the event params.
func (ev *Event) Get(path string) gjson.Result {
	return gjson.GetBytes(ev.Params, path)
}

// Handler handles an event.
type Handler func(*Event)

// Driver is a connection to one target (the browser itself or a page).
type Driver struct {
	id   string
	conn Transport

	// next is the next message id.
	next int64

	pmu     sync.Mutex
	pending map[int64]chan *cdproto.Message

	hmu       sync.RWMutex
	queued    map[string]Handler
	immediate map[string]Handler

	events     *eventQueue
	immEvents  *eventQueue
	immStarted sync.Once

	alert atomic.Bool

	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	onDisconnect []func()
	timeout      time.Duration

	log    logrus.FieldLogger
	tracer trace.Tracer
}

// Option is a driver option.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Driver) {
		d.log = l
	}
}

// WithCallTimeout sets the default reply timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.timeout = timeout
	}
}

// WithID sets the id reported in logs and spans. Dial derives it from the
// websocket URL.
func WithID(id string) Option {
	return func(d *Driver) {
		d.id = id
	}
}

// OnDisconnect registers fn to run once the driver has stopped.
func OnDisconnect(fn func()) Option {
	return func(d *Driver) {
		d.onDisconnect = append(d.onDisconnect, fn)
	}
}

// Dial connects to the websocket debugger URL of a target.
func Dial(ctx context.Context, urlstr string, opts ...Option) (*Driver, error) {
	conn, err := DialContext(ctx, urlstr)
	if err != nil {
		return nil, err
	}
	id := urlstr
	if i := strings.LastIndex(urlstr, "/"); i != -1 {
		id = urlstr[i+1:]
	}
	return New(conn, append([]Option{WithID(id)}, opts...)...), nil
}

// New starts a driver over an established transport.
func New(conn Transport, opts ...Option) *Driver {
	d := &Driver{
		conn:      conn,
		pending:   make(map[int64]chan *cdproto.Message),
		queued:    make(map[string]Handler),
		immediate: make(map[string]Handler),
		events:    newEventQueue(),
		immEvents: newEventQueue(),
		stopped:   make(chan struct{}),
		timeout:   DefaultCallTimeout,
		tracer:    otel.Tracer("github.com/chromedp/drission/driver"),
	}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = logrus.StandardLogger()
	}
	d.log = d.log.WithField("target", d.id)

	d.wg.Add(2)
	go d.recvLoop()
	go d.dispatchLoop(d.events, false)
	return d
}

// ID returns the target id the driver is attached to.
func (d *Driver) ID() string {
	return d.id
}

// Done is closed when the driver stops.
func (d *Driver) Done() <-chan struct{} {
	return d.stopped
}

// Stopped reports whether the driver has stopped.
func (d *Driver) Stopped() bool {
	select {
	case <-d.stopped:
		return true
	default:
		return false
	}
}

// AlertActive reports whether a javascript dialog is open on the target.
func (d *Driver) AlertActive() bool {
	return d.alert.Load()
}

// SetCallback registers fn for the event method. A nil fn removes the
// handler. Immediate handlers run on their own worker so they may run while
// a queued handler is still busy; queued handlers run one at a time in
// receive order.
func (d *Driver) SetCallback(method string, fn Handler, immediate bool) {
	d.hmu.Lock()
	defer d.hmu.Unlock()

	delete(d.queued, method)
	delete(d.immediate, method)
	if fn == nil {
		return
	}
	if !immediate {
		d.queued[method] = fn
		return
	}
	d.immediate[method] = fn
	d.immStarted.Do(func() {
		select {
		case <-d.stopped:
			return
		default:
		}
		d.wg.Add(1)
		go d.dispatchLoop(d.immEvents, true)
	})
}

// Stop closes the connection, fails every pending call with a connection
// error and runs the disconnect hooks. It is safe to call more than once.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		if err := d.conn.Close(); err != nil {
			d.log.Debugf("close: %v", err)
		}

		d.pmu.Lock()
		for id, ch := range d.pending {
			close(ch)
			delete(d.pending, id)
		}
		d.pmu.Unlock()

		d.hmu.Lock()
		d.queued = make(map[string]Handler)
		d.immediate = make(map[string]Handler)
		d.hmu.Unlock()

		for _, fn := range d.onDisconnect {
			fn()
		}
	})
}

// Wait blocks until every goroutine of a stopped driver has exited.
func (d *Driver) Wait() {
	d.wg.Wait()
}

func (d *Driver) recvLoop() {
	defer d.wg.Done()
	defer d.Stop()

	for {
		msg, err := d.conn.Read()
		if err != nil {
			if !d.Stopped() {
				d.log.Debugf("read: %v", err)
			}
			return
		}

		switch {
		case msg.Method != "":
			method := string(msg.Method)
			// the flag must flip before any later call is evaluated
			switch method {
			case eventDialogOpening:
				d.alert.Store(true)
			case eventDialogClosed:
				d.alert.Store(false)
			}

			d.hmu.RLock()
			_, imm := d.immediate[method]
			_, queued := d.queued[method]
			d.hmu.RUnlock()

			ev := &Event{Method: method, SessionID: msg.SessionID, Params: msg.Params}
			switch {
			case imm:
				d.immEvents.push(ev)
			case queued:
				d.events.push(ev)
			}

		case msg.ID != 0:
			d.pmu.Lock()
			ch, ok := d.pending[msg.ID]
			delete(d.pending, msg.ID)
			d.pmu.Unlock()
			if !ok {
				d.log.Debugf("id %d not present in pending map", msg.ID)
				continue
			}
			ch <- msg

		default:
			d.log.Warnf("ignoring malformed incoming message (missing id or method): %#v", msg)
		}
	}
}

func (d *Driver) dispatchLoop(q *eventQueue, immediate bool) {
	defer d.wg.Done()
	for {
		ev, ok := q.pop(d.stopped)
		if !ok {
			return
		}
		d.hmu.RLock()
		var fn Handler
		if immediate {
			fn = d.immediate[ev.Method]
		} else {
			fn = d.queued[ev.Method]
		}
		d.hmu.RUnlock()
		if fn != nil {
			d.handle(fn, ev)
		}
	}
}

func (d *Driver) handle(fn Handler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("method", ev.Method).Errorf("event handler panic: %v", r)
		}
	}()
	fn(ev)
}

// Call sends method with params and waits for its reply. params may be nil,
// an easyjson.Marshaler, raw JSON bytes or any value encoding/json accepts.
func (d *Driver) Call(ctx context.Context, method string, params interface{}, opts ...CallOption) (gjson.Result, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", method, err)
	}
	cfg := callConfigFrom(ctx, opts)
	buf, err := d.send(ctx, method, raw, cfg)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(buf), nil
}

// Execute satisfies cdp.Executor, so cdproto command builders run directly
// over a Driver. Call options are taken from the context, see WithCallOptions.
func (d *Driver) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	raw, err := encodeParams(params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	buf, err := d.send(ctx, method, raw, callConfigFrom(ctx, nil))
	if err != nil || res == nil || len(buf) == 0 {
		return err
	}
	return easyjson.Unmarshal(buf, res)
}

// Send writes method without waiting for a reply.
func (d *Driver) Send(method string, params interface{}) error {
	_, err := d.Call(context.Background(), method, params, NoWait())
	return err
}

func (d *Driver) send(ctx context.Context, method string, params easyjson.RawMessage, cfg callConfig) (res easyjson.RawMessage, err error) {
	defer func() {
		if err != nil && IsKind(err, cfg.ignore) {
			res, err = nil, nil
		}
	}()

	if d.Stopped() {
		return nil, &Error{Kind: KindConnection, Method: method, Err: ErrConnectionClosed}
	}
	if !cfg.ignoreAlert && d.alert.Load() && blockedByAlert(method) {
		return nil, &Error{Kind: KindAlertExists, Method: method, Err: ErrAlertExists}
	}

	msg := &cdproto.Message{
		ID:     atomic.AddInt64(&d.next, 1),
		Method: cdproto.MethodType(method),
		Params: params,
	}

	if cfg.noWait {
		if err := d.conn.Write(msg); err != nil {
			return nil, &Error{Kind: KindConnection, Method: method, Err: err}
		}
		return nil, nil
	}

	ctx, span := d.tracer.Start(ctx, method, trace.WithAttributes(
		attribute.String("cdp.target", d.id),
		attribute.Int64("cdp.id", msg.ID),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	timeout := cfg.timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan *cdproto.Message, 1)
	d.pmu.Lock()
	d.pending[msg.ID] = ch
	d.pmu.Unlock()

	if err := d.conn.Write(msg); err != nil {
		d.reclaim(msg.ID)
		return nil, &Error{Kind: KindConnection, Method: method, Err: err}
	}

	select {
	case reply, ok := <-ch:
		switch {
		case !ok || reply == nil:
			return nil, &Error{Kind: KindConnection, Method: method, Err: ErrConnectionClosed}
		case reply.Error != nil:
			return nil, &Error{
				Kind:    KindCallMethod,
				Method:  method,
				Code:    reply.Error.Code,
				Message: reply.Error.Message,
				Err:     reply.Error,
			}
		}
		return reply.Result, nil

	case <-d.stopped:
		d.reclaim(msg.ID)
		return nil, &Error{Kind: KindConnection, Method: method, Err: ErrConnectionClosed}

	case <-ctx.Done():
		d.reclaim(msg.ID)
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = ErrTimeout
		}
		return nil, &Error{Kind: KindTimeout, Method: method, Err: cause}
	}
}

func (d *Driver) reclaim(id int64) {
	d.pmu.Lock()
	delete(d.pending, id)
	d.pmu.Unlock()
}

func (d *Driver) pendingCount() int {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	return len(d.pending)
}

// blockedByAlert reports whether method hangs while a dialog is open.
func blockedByAlert(method string) bool {
	return strings.HasPrefix(method, "Input.") || strings.HasPrefix(method, "Runtime.")
}

func encodeParams(params interface{}) (easyjson.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return emptyObj, nil
	case easyjson.RawMessage:
		return p, nil
	case json.RawMessage:
		return easyjson.RawMessage(p), nil
	case []byte:
		return easyjson.RawMessage(p), nil
	case easyjson.Marshaler:
		return easyjson.Marshal(p)
	}
	buf, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return easyjson.RawMessage(buf), nil
}
