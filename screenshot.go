package drission

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/ledongthuc/pdf"
	"github.com/spf13/afero"
)

// ScreenshotOption configures a screenshot.
type ScreenshotOption func(*shotConfig)

type shotConfig struct {
	path     string
	format   cdppage.CaptureScreenshotFormat
	quality  int64
	fullPage bool
	region   *[2]Point
}

// ScreenshotPath saves the image to path, creating directories as needed.
// The format follows the extension unless ScreenshotFormat is given.
func ScreenshotPath(path string) ScreenshotOption {
	return func(c *shotConfig) {
		c.path = path
	}
}

// ScreenshotFormat sets the image format: "png", "jpeg" or "webp".
func ScreenshotFormat(format string) ScreenshotOption {
	return func(c *shotConfig) {
		c.format = shotFormat(format)
	}
}

// ScreenshotQuality sets the jpeg and webp quality, 0 to 100.
func ScreenshotQuality(q int) ScreenshotOption {
	return func(c *shotConfig) {
		c.quality = int64(q)
	}
}

// FullPage captures the whole document instead of the viewport.
func FullPage(v bool) ScreenshotOption {
	return func(c *shotConfig) {
		c.fullPage = v
	}
}

// ScreenshotRegion captures the area between two document points.
func ScreenshotRegion(leftTop, rightBottom Point) ScreenshotOption {
	return func(c *shotConfig) {
		c.region = &[2]Point{leftTop, rightBottom}
	}
}

func shotFormat(s string) cdppage.CaptureScreenshotFormat {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "jpg", "jpeg":
		return cdppage.CaptureScreenshotFormatJpeg
	case "webp":
		return cdppage.CaptureScreenshotFormatWebp
	}
	return cdppage.CaptureScreenshotFormatPng
}

func newShotConfig(opts []ScreenshotOption) shotConfig {
	var c shotConfig
	for _, o := range opts {
		o(&c)
	}
	if c.format == "" {
		c.format = cdppage.CaptureScreenshotFormatPng
		if c.path != "" {
			c.format = shotFormat(filepath.Ext(c.path))
		}
	}
	if c.quality <= 0 || c.quality > 100 {
		c.quality = 100
	}
	return c
}

// roundClip aligns a clip to whole pixels the way the browser's own node
// screenshot does.
func roundClip(x, y, w, h float64) *cdppage.Viewport {
	rx, ry := math.Round(x), math.Round(y)
	return &cdppage.Viewport{
		X:      rx,
		Y:      ry,
		Width:  math.Round(w + x - rx),
		Height: math.Round(h + y - ry),
		Scale:  1,
	}
}

// capture takes a screenshot of the tab, clipped to clip when not nil.
// Clips are in document coordinates.
func (t *Tab) capture(ctx context.Context, c shotConfig, clip *cdppage.Viewport) ([]byte, error) {
	ectx, err := t.executor(ctx)
	if err != nil {
		return nil, err
	}
	shot := cdppage.CaptureScreenshot().WithFormat(c.format).WithFromSurface(true)
	if c.format != cdppage.CaptureScreenshotFormatPng {
		shot = shot.WithQuality(c.quality)
	}
	if clip != nil {
		shot = shot.WithClip(clip).WithCaptureBeyondViewport(true)
	}
	buf, err := shot.Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if c.path != "" {
		if err := t.b.save(c.path, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// save writes buf to path on the browser filesystem.
func (b *Browser) save(path string, buf []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return afero.WriteFile(b.fs, path, buf, 0o644)
}

// Screenshot captures the viewport, the full page or a region.
func (t *Tab) Screenshot(ctx context.Context, opts ...ScreenshotOption) ([]byte, error) {
	c := newShotConfig(opts)
	switch {
	case c.region != nil:
		lt, rb := c.region[0], c.region[1]
		if rb.X <= lt.X || rb.Y <= lt.Y {
			return nil, fmt.Errorf("%w: empty region", ErrInvalidArgument)
		}
		return t.capture(ctx, c, roundClip(lt.X, lt.Y, rb.X-lt.X, rb.Y-lt.Y))
	case c.fullPage:
		size, err := t.Rect().Size(ctx)
		if err != nil {
			return nil, err
		}
		return t.capture(ctx, c, roundClip(0, 0, size.Width, size.Height))
	}
	return t.capture(ctx, c, nil)
}

// Screenshot captures the element. Elements inside frames are captured
// from the tab holding them.
func (e *Element) Screenshot(ctx context.Context, opts ...ScreenshotOption) ([]byte, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	if err := e.ScrollIntoView(ctx, false); err != nil {
		return nil, err
	}
	b, err := e.Rect().box(ctx)
	if err != nil {
		return nil, err
	}
	o, err := e.p.origin(ctx)
	if err != nil {
		return nil, err
	}
	tab := e.p.owner
	scroll, err := tab.Rect().ScrollPosition(ctx)
	if err != nil {
		return nil, err
	}
	c := newShotConfig(opts)
	return tab.capture(ctx, c, roundClip(b.x+o.X+scroll.X, b.y+o.Y+scroll.Y, b.width, b.height))
}

// SaveMHTML returns the page as an MHTML archive and writes it to path
// when path is not empty.
func (t *Tab) SaveMHTML(ctx context.Context, path string) (string, error) {
	ectx, err := t.executor(ctx)
	if err != nil {
		return "", err
	}
	s, err := cdppage.CaptureSnapshot().WithFormat(cdppage.CaptureSnapshotFormatMhtml).Do(ectx)
	if err != nil {
		return "", wrapErr(err)
	}
	if path != "" {
		if err := t.b.save(path, []byte(s)); err != nil {
			return "", err
		}
	}
	return s, nil
}

// PDFOption configures SavePDF.
type PDFOption func(*cdppage.PrintToPDFParams) *cdppage.PrintToPDFParams

// PDFLandscape prints in landscape orientation.
func PDFLandscape(p *cdppage.PrintToPDFParams) *cdppage.PrintToPDFParams {
	return p.WithLandscape(true)
}

// PDFBackground prints background graphics.
func PDFBackground(p *cdppage.PrintToPDFParams) *cdppage.PrintToPDFParams {
	return p.WithPrintBackground(true)
}

// PDFScale sets the rendering scale.
func PDFScale(scale float64) PDFOption {
	return func(p *cdppage.PrintToPDFParams) *cdppage.PrintToPDFParams {
		return p.WithScale(scale)
	}
}

// PDFPaper sets the paper size in inches.
func PDFPaper(width, height float64) PDFOption {
	return func(p *cdppage.PrintToPDFParams) *cdppage.PrintToPDFParams {
		return p.WithPaperWidth(width).WithPaperHeight(height)
	}
}

// PDFRanges sets the pages to print, such as "1-5, 8".
func PDFRanges(ranges string) PDFOption {
	return func(p *cdppage.PrintToPDFParams) *cdppage.PrintToPDFParams {
		return p.WithPageRanges(ranges)
	}
}

// SavePDF prints the page and returns the document and its page count.
// The document is written to path when path is not empty.
func (t *Tab) SavePDF(ctx context.Context, path string, opts ...PDFOption) ([]byte, int, error) {
	ectx, err := t.executor(ctx)
	if err != nil {
		return nil, 0, err
	}
	params := cdppage.PrintToPDF()
	for _, o := range opts {
		params = o(params)
	}
	buf, _, err := params.Do(ectx)
	if err != nil {
		return nil, 0, wrapErr(err)
	}
	pages, err := pdfPages(buf)
	if err != nil {
		t.log.WithError(err).Debug("could not count pdf pages")
	}
	if path != "" {
		if err := t.b.save(path, buf); err != nil {
			return nil, 0, err
		}
	}
	return buf, pages, nil
}

func pdfPages(buf []byte) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
