package driver

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pipe is an in-memory Transport. Messages written by the driver show up on
// sent; messages pushed with deliver are read by the driver.
type pipe struct {
	in   chan *cdproto.Message
	sent chan *cdproto.Message

	once   sync.Once
	closed chan struct{}
}

func newPipe() *pipe {
	return &pipe{
		in:     make(chan *cdproto.Message, 64),
		sent:   make(chan *cdproto.Message, 64),
		closed: make(chan struct{}),
	}
}

func (p *pipe) Read() (*cdproto.Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipe) Write(msg *cdproto.Message) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	p.sent <- msg
	return nil
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipe) deliver(msg *cdproto.Message) {
	p.in <- msg
}

func (p *pipe) reply(id int64, result string) {
	p.deliver(&cdproto.Message{ID: id, Result: easyjson.RawMessage(result)})
}

func (p *pipe) event(method, params string) {
	p.deliver(&cdproto.Message{Method: cdproto.MethodType(method), Params: easyjson.RawMessage(params)})
}

func (p *pipe) next(t *testing.T) *cdproto.Message {
	t.Helper()
	select {
	case msg := <-p.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message written")
	}
	return nil
}

func newTestDriver(t *testing.T, opts ...Option) (*Driver, *pipe) {
	t.Helper()
	p := newPipe()
	d := New(p, append([]Option{WithID("test")}, opts...)...)
	t.Cleanup(func() {
		d.Stop()
		d.Wait()
	})
	return d, p
}

func TestCallCorrelatesReplies(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	ctx := context.Background()

	const n = 3
	results := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := d.Call(ctx, "DOM.getDocument", nil)
			assert.NoError(t, err)
			results[i] = res.Get("root.backendNodeId").Int()
		}(i)
	}

	var ids []int64
	for i := 0; i < n; i++ {
		ids = append(ids, p.next(t).ID)
	}
	// answer in reverse order; backendNodeId encodes the request id
	for i := n - 1; i >= 0; i-- {
		p.reply(ids[i], `{"root":{"backendNodeId":`+strconv.FormatInt(ids[i]*100, 10)+`}}`)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int64{ids[0] * 100, ids[1] * 100, ids[2] * 100}, results)
	assert.Zero(t, d.pendingCount())
}

func TestCallDelayedReplyDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		res, err := d.Call(ctx, "DOM.getDocument", nil)
		if err == nil && res.Get("root.backendNodeId").Int() != 1 {
			err = errors.New("wrong reply")
		}
		slow <- err
	}()
	slowID := p.next(t).ID

	fast := make(chan int64, 1)
	go func() {
		res, _ := d.Call(ctx, "DOM.getDocument", nil)
		fast <- res.Get("root.backendNodeId").Int()
	}()
	fastID := p.next(t).ID
	p.reply(fastID, `{"root":{"backendNodeId":2}}`)
	assert.Equal(t, int64(2), <-fast)

	time.AfterFunc(time.Second, func() {
		p.reply(slowID, `{"root":{"backendNodeId":1}}`)
	})
	require.NoError(t, <-slow)
	assert.Zero(t, d.pendingCount())
}

func TestCallTimeout(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	_, err := d.Call(context.Background(), "Page.navigate", map[string]string{"url": "about:blank"}, Timeout(50*time.Millisecond))
	p.next(t)

	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, d.pendingCount())
}

func TestCallIgnoreMask(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	done := make(chan error, 1)
	go func() {
		res, err := d.Call(context.Background(), "DOM.focus", nil, Ignore(KindCallMethod))
		assert.False(t, res.Exists())
		done <- err
	}()
	msg := p.next(t)
	p.deliver(&cdproto.Message{ID: msg.ID, Error: &cdproto.Error{Code: -32000, Message: "Element is not focusable"}})
	assert.NoError(t, <-done)

	go func() {
		_, err := d.Call(context.Background(), "DOM.focus", nil)
		done <- err
	}()
	msg = p.next(t)
	p.deliver(&cdproto.Message{ID: msg.ID, Error: &cdproto.Error{Code: -32000, Message: "Element is not focusable"}})
	err := <-done
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindCallMethod, derr.Kind)
	assert.Equal(t, "Element is not focusable", derr.Message)
}

func TestAlertBlocksInputAndRuntime(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	p.event("Page.javascriptDialogOpening", `{"type":"alert","message":"hi"}`)
	require.Eventually(t, d.AlertActive, time.Second, 5*time.Millisecond)

	for _, method := range []string{"Input.dispatchMouseEvent", "Runtime.evaluate"} {
		_, err := d.Call(context.Background(), method, nil)
		assert.True(t, IsKind(err, KindAlertExists), method)
		assert.ErrorIs(t, err, ErrAlertExists)
	}
	select {
	case msg := <-p.sent:
		t.Fatalf("unexpected write %s", msg.Method)
	default:
	}

	// other domains still go through
	done := make(chan error, 1)
	go func() {
		_, err := d.Call(context.Background(), "Page.handleJavaScriptDialog", map[string]bool{"accept": true})
		done <- err
	}()
	p.reply(p.next(t).ID, `{}`)
	require.NoError(t, <-done)

	p.event("Page.javascriptDialogClosed", `{"result":true}`)
	require.Eventually(t, func() bool { return !d.AlertActive() }, time.Second, 5*time.Millisecond)
}

func TestAlertIgnoredByOption(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	p.event("Page.javascriptDialogOpening", `{"type":"prompt"}`)
	require.Eventually(t, d.AlertActive, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		ctx := WithCallOptions(context.Background(), IgnoreAlert())
		_, err := d.Call(ctx, "Runtime.evaluate", map[string]string{"expression": "1"})
		done <- err
	}()
	p.reply(p.next(t).ID, `{"result":{"type":"number","value":1}}`)
	require.NoError(t, <-done)
}

func TestStopFailsPendingCalls(t *testing.T) {
	t.Parallel()

	var disconnected sync.WaitGroup
	disconnected.Add(1)
	d, p := newTestDriver(t, OnDisconnect(disconnected.Done))

	done := make(chan error, 1)
	go func() {
		_, err := d.Call(context.Background(), "Page.reload", nil)
		done <- err
	}()
	p.next(t)
	p.Close()

	err := <-done
	assert.True(t, IsKind(err, KindConnection))
	disconnected.Wait()

	<-d.Done()
	_, err = d.Call(context.Background(), "Page.reload", nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Zero(t, d.pendingCount())
}

func TestQueuedHandlersRunInOrder(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)

	var mu sync.Mutex
	var got []int64
	done := make(chan struct{})
	d.SetCallback("Network.requestWillBeSent", func(ev *Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Get("n").Int())
		if len(got) == 20 {
			close(done)
		}
	}, false)

	for i := 0; i < 20; i++ {
		p.event("Network.requestWillBeSent", `{"n":`+strconv.Itoa(i)+`}`)
	}
	<-done
	for i, n := range got {
		assert.Equal(t, int64(i), n)
	}
}

func TestImmediateHandlerRunsWhileQueuedBusy(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)

	release := make(chan struct{})
	d.SetCallback("Page.loadEventFired", func(*Event) {
		<-release
	}, false)

	immediate := make(chan string, 1)
	d.SetCallback("Page.javascriptDialogOpening", func(ev *Event) {
		immediate <- ev.Get("message").String()
	}, true)

	p.event("Page.loadEventFired", `{}`)
	p.event("Page.javascriptDialogOpening", `{"type":"alert","message":"now"}`)

	select {
	case msg := <-immediate:
		assert.Equal(t, "now", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("immediate handler blocked behind queued handler")
	}
	close(release)
}

func TestHandlerPanicDoesNotKillLoop(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	seen := make(chan struct{}, 2)
	d.SetCallback("Page.frameNavigated", func(ev *Event) {
		seen <- struct{}{}
		if ev.Get("boom").Bool() {
			panic("boom")
		}
	}, false)

	p.event("Page.frameNavigated", `{"boom":true}`)
	p.event("Page.frameNavigated", `{}`)
	<-seen
	<-seen
}

func TestRemoveCallback(t *testing.T) {
	t.Parallel()

	d, _ := newTestDriver(t)
	d.SetCallback("Page.loadEventFired", func(*Event) {}, true)
	d.SetCallback("Page.loadEventFired", nil, true)

	d.hmu.RLock()
	defer d.hmu.RUnlock()
	assert.Empty(t, d.immediate)
	assert.Empty(t, d.queued)
}

func TestSendNoWait(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	require.NoError(t, d.Send("Page.stopLoading", nil))
	msg := p.next(t)
	assert.Equal(t, cdproto.MethodType("Page.stopLoading"), msg.Method)
	assert.NotZero(t, msg.ID)
	assert.Zero(t, d.pendingCount())
}

func TestExecuteWithCommandBuilder(t *testing.T) {
	t.Parallel()

	d, p := newTestDriver(t)
	type result struct {
		node *cdp.Node
		err  error
	}
	done := make(chan result, 1)
	go func() {
		node, err := dom.GetDocument().WithDepth(1).Do(cdp.WithExecutor(context.Background(), d))
		done <- result{node, err}
	}()

	msg := p.next(t)
	assert.Equal(t, cdproto.MethodType(dom.CommandGetDocument), msg.Method)
	assert.JSONEq(t, `{"depth":1}`, string(msg.Params))
	p.reply(msg.ID, `{"root":{"nodeId":1,"backendNodeId":7,"nodeType":9,"nodeName":"#document","localName":"","nodeValue":""}}`)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, cdp.BackendNodeID(7), r.node.BackendNodeID)
}
