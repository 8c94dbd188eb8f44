package drission

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chromedp/drission/internal/cdptest"
)

func TestWaitEle(t *testing.T) {
	f := newFixture(t)
	f.handleNodes()
	var present atomic.Bool
	f.srv.Handle("DOM.querySelectorAll", func(*cdptest.Request) (interface{}, error) {
		if !present.Load() {
			return map[string]interface{}{"nodeIds": []int{}}, nil
		}
		return map[string]interface{}{"nodeIds": []int{10}}, nil
	})
	ctx := testContext(t)
	w := f.tab.Wait()

	time.AfterFunc(150*time.Millisecond, func() { present.Store(true) })
	e, err := w.EleLoaded(ctx, "css:.item", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, cdp.BackendNodeID(110), e.BackendID())

	ok, err := w.EleDeleted(ctx, "css:.item", 150*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.AfterFunc(150*time.Millisecond, func() { present.Store(false) })
	ok, err = w.EleDeleted(ctx, "css:.item", 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	e, err = w.EleLoaded(ctx, "css:.item", 150*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, e)

	f.b.Settings().SetRaiseWhenWaitFailed(true)
	_, err = w.EleLoaded(ctx, "css:.item", 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaitURLAndTitle(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	w := f.tab.Wait()
	tab := f.tab.ID()

	ok, err := w.URLChange(ctx, "done", false, 150*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.AfterFunc(150*time.Millisecond, func() { f.srv.SetTargetURL(tab, "https://a.test/done") })
	ok, err = w.URLChange(ctx, "done", false, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.TitleChange(ctx, "a.test", false, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	time.AfterFunc(150*time.Millisecond, func() { f.srv.SetTargetURL(tab, "https://b.test/") })
	ok, err = w.TitleChange(ctx, "a.test", true, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitLoad(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	w := f.tab.Wait()
	tab := f.tab.ID()

	ok, err := w.LoadStart(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.AfterFunc(100*time.Millisecond, func() {
		f.srv.Emit(tab, "Page.frameStartedLoading", map[string]string{"frameId": tab})
	})
	ok, err = w.LoadStart(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.DocLoaded(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.AfterFunc(100*time.Millisecond, func() {
		f.srv.Emit(tab, "Page.frameStoppedLoading", map[string]string{"frameId": tab})
	})
	ok, err = w.DocLoaded(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateComplete, f.tab.ReadyState())
}

func TestWaitNewTab(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	w := f.tab.Wait()

	id, err := w.NewTab(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)

	added := make(chan string, 1)
	time.AfterFunc(100*time.Millisecond, func() {
		added <- f.srv.AddTarget(cdptest.Target{URL: "https://a.test/"}).ID
	})
	id, err = w.NewTab(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, <-added, id)
}

func TestWaitAlertAndSleep(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	w := f.tab.Wait()

	_, ok, err := w.Alert(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.AfterFunc(50*time.Millisecond, func() { f.openDialog("alert", "hi") })
	a, ok, err := w.Alert(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi", a.Text)

	start := time.Now()
	require.NoError(t, w.Sleep(ctx, 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, w.Sleep(cctx, time.Second), context.Canceled)
}
