package drission

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegFrame(t *testing.T, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func (f *fixture) emitFrame(data string, session int) {
	f.srv.Emit(f.tab.ID(), "Page.screencastFrame", map[string]interface{}{
		"data":      data,
		"sessionId": session,
		"metadata":  map[string]interface{}{"offsetTop": 0, "pageScaleFactor": 1, "deviceWidth": 16, "deviceHeight": 16, "scrollOffsetX": 0, "scrollOffsetY": 0},
	})
}

func TestScreencast(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	sc := f.tab.Screencast()
	sc.SetQuality(70)
	require.NoError(t, sc.Start(ctx, "/video"))
	start := f.srv.WaitCall("Page.startScreencast", 1, time.Second)
	assert.Equal(t, "jpeg", start[0].Get("format").String())
	assert.Equal(t, int64(70), start[0].Get("quality").Int())

	red := jpegFrame(t, color.RGBA{255, 0, 0, 255})
	f.emitFrame(red, 1)
	f.emitFrame(red, 2)
	require.Eventually(t, func() bool { return len(sc.Frames()) == 2 }, 2*time.Second, 5*time.Millisecond)
	acks := f.srv.WaitCall("Page.screencastFrameAck", 2, time.Second)
	assert.Equal(t, int64(1), acks[0].Get("sessionId").Int())

	for _, name := range sc.Frames() {
		ok, err := afero.Exists(f.fs, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}

	dir, err := sc.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/video", dir)
	f.srv.WaitCall("Page.stopScreencast", 1, time.Second)
}

func TestScreencastFrugal(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	sc := f.tab.Screencast()
	require.NoError(t, sc.SetMode(ScreencastFrugal))
	assert.Error(t, sc.SetMode("video"))
	require.NoError(t, sc.Start(ctx, "/frugal"))

	red := jpegFrame(t, color.RGBA{255, 0, 0, 255})
	blue := jpegFrame(t, color.RGBA{0, 0, 255, 255})
	f.emitFrame(red, 1)
	f.emitFrame(red, 2)
	f.emitFrame(blue, 3)
	require.Eventually(t, func() bool { return len(sc.Frames()) == 2 }, 2*time.Second, 5*time.Millisecond)
	f.srv.WaitCall("Page.screencastFrameAck", 3, time.Second)
	assert.Len(t, sc.Frames(), 2)

	_, err := sc.Stop(ctx)
	require.NoError(t, err)
}
