package drission

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/orisano/pixelmatch"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/chromedp/drission/driver"
)

// ScreencastMode selects which frames a Screencast keeps.
type ScreencastMode string

// Screencast modes.
const (
	// ScreencastImages keeps every frame.
	ScreencastImages ScreencastMode = "images"
	// ScreencastFrugal keeps a frame only when it differs from the last
	// kept one.
	ScreencastFrugal ScreencastMode = "frugal_images"
)

// Screencast records the frames a tab paints as jpeg files.
type Screencast struct {
	t   *Tab
	fs  afero.Fs
	log *logrus.Entry

	mu      sync.Mutex
	drv     *driver.Driver
	mode    ScreencastMode
	dir     string
	quality int
	last    image.Image
	frames  []string
}

func newScreencast(t *Tab) *Screencast {
	return &Screencast{
		t:       t,
		fs:      t.b.fs,
		log:     t.log.WithField("component", "screencast"),
		mode:    ScreencastImages,
		quality: 100,
	}
}

// SetMode selects the recording mode.
func (s *Screencast) SetMode(mode ScreencastMode) error {
	switch mode {
	case ScreencastImages, ScreencastFrugal:
	default:
		return fmt.Errorf("%w: screencast mode %q", ErrInvalidArgument, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

// SetQuality sets the jpeg quality of the frames.
func (s *Screencast) SetQuality(q int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quality = q
}

// Start records into dir, which is created when missing.
func (s *Screencast) Start(ctx context.Context, dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: screencast needs a directory", ErrInvalidArgument)
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if _, err := s.Stop(ctx); err != nil {
		s.log.WithError(err).Debug("stop previous screencast")
	}
	drv, err := s.t.b.newDriver(ctx, s.t.tabID, s.t.targetID, logrus.Fields{"tab": s.t.tabID, "component": "screencast"})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dir, s.frames, s.last = dir, nil, nil
	quality := s.quality
	s.mu.Unlock()

	drv.SetCallback("Page.screencastFrame", func(ev *driver.Event) { s.onFrame(drv, ev) }, false)
	_, err = drv.Call(ctx, "Page.startScreencast", map[string]interface{}{
		"format":  "jpeg",
		"quality": quality,
	})
	if err != nil {
		drv.Stop()
		return wrapErr(err)
	}
	s.mu.Lock()
	s.drv = drv
	s.mu.Unlock()
	return nil
}

func (s *Screencast) onFrame(drv *driver.Driver, ev *driver.Event) {
	if err := drv.Send("Page.screencastFrameAck", map[string]int64{"sessionId": ev.Get("sessionId").Int()}); err != nil {
		s.log.WithError(err).Debug("screencastFrameAck")
	}
	buf, err := base64.StdEncoding.DecodeString(ev.Get("data").String())
	if err != nil {
		s.log.WithError(err).Warn("bad screencast frame")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ScreencastFrugal {
		img, err := jpeg.Decode(bytes.NewReader(buf))
		if err != nil {
			s.log.WithError(err).Warn("could not decode screencast frame")
			return
		}
		if s.last != nil && same(s.last, img) {
			return
		}
		s.last = img
	}
	name := filepath.Join(s.dir, fmt.Sprintf("%06d_%s.jpg", len(s.frames), uuid.NewString()))
	if err := afero.WriteFile(s.fs, name, buf, 0o644); err != nil {
		s.log.WithError(err).Warn("could not write screencast frame")
		return
	}
	s.frames = append(s.frames, name)
}

// same reports whether two frames show the same picture.
func same(a, b image.Image) bool {
	if a.Bounds() != b.Bounds() {
		return false
	}
	diff, err := pixelmatch.MatchPixel(a, b, pixelmatch.Threshold(0.1))
	return err == nil && diff == 0
}

// Frames returns the files written so far, in order.
func (s *Screencast) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

// Stop ends the recording and returns the directory holding the frames.
func (s *Screencast) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	drv, dir := s.drv, s.dir
	s.drv = nil
	s.mu.Unlock()
	if drv == nil {
		return dir, nil
	}
	_, err := drv.Call(ctx, "Page.stopScreencast", nil, driver.Ignore(driver.KindConnection))
	drv.Stop()
	return dir, wrapErr(err)
}
