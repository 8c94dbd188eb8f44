package drission

import (
	"context"
	"math"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
)

// Point is a position in CSS pixels.
type Point struct {
	X, Y float64
}

// Size is a width and height in CSS pixels.
type Size struct {
	Width, Height float64
}

// ElementRect reads the geometry of an element. Viewport coordinates are
// relative to the visible area, page coordinates to the document and screen
// coordinates to the display, in device pixels.
type ElementRect struct {
	e *Element
}

// box is the result of rectJS.
type box struct {
	x, y, width, height float64
	scrollX, scrollY    float64
	innerW, innerH      float64
	outerH              float64
	screenX, screenY    float64
	dpr                 float64
}

func (r *ElementRect) box(ctx context.Context) (box, error) {
	if r.e.IsNone() {
		return box{}, r.e.notFound()
	}
	res, err := r.e.callValue(ctx, rectJS)
	if err != nil {
		return box{}, err
	}
	if !res.IsObject() {
		return box{}, ErrNoRect
	}
	b := box{
		x:       res.Get("x").Float(),
		y:       res.Get("y").Float(),
		width:   res.Get("width").Float(),
		height:  res.Get("height").Float(),
		scrollX: res.Get("scrollX").Float(),
		scrollY: res.Get("scrollY").Float(),
		innerW:  res.Get("innerWidth").Float(),
		innerH:  res.Get("innerHeight").Float(),
		outerH:  res.Get("outerHeight").Float(),
		screenX: res.Get("screenX").Float(),
		screenY: res.Get("screenY").Float(),
		dpr:     res.Get("dpr").Float(),
	}
	if b.dpr == 0 {
		b.dpr = 1
	}
	return b, nil
}

// Size returns the size of the layout box.
func (r *ElementRect) Size(ctx context.Context) (Size, error) {
	b, err := r.box(ctx)
	return Size{b.width, b.height}, err
}

// Location returns the top left corner in page coordinates.
func (r *ElementRect) Location(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	return Point{b.x + b.scrollX, b.y + b.scrollY}, err
}

// ViewportLocation returns the top left corner in viewport coordinates.
func (r *ElementRect) ViewportLocation(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	return Point{b.x, b.y}, err
}

// Midpoint returns the center in page coordinates.
func (r *ElementRect) Midpoint(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	return Point{b.x + b.scrollX + b.width/2, b.y + b.scrollY + b.height/2}, err
}

// ViewportMidpoint returns the center in viewport coordinates.
func (r *ElementRect) ViewportMidpoint(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	return b.mid(), err
}

// ClickPoint returns the point clicks land on, in page coordinates.
func (r *ElementRect) ClickPoint(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	p := b.clickPoint()
	return Point{p.X + b.scrollX, p.Y + b.scrollY}, err
}

// ViewportClickPoint returns the point clicks land on, in viewport
// coordinates.
func (r *ElementRect) ViewportClickPoint(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	return b.clickPoint(), err
}

// Corners returns the four corners clockwise from the top left, in page
// coordinates.
func (r *ElementRect) Corners(ctx context.Context) ([4]Point, error) {
	b, err := r.box(ctx)
	return b.corners(b.scrollX, b.scrollY), err
}

// ViewportCorners returns the four corners in viewport coordinates.
func (r *ElementRect) ViewportCorners(ctx context.Context) ([4]Point, error) {
	b, err := r.box(ctx)
	return b.corners(0, 0), err
}

// ScreenLocation returns the top left corner on the screen.
func (r *ElementRect) ScreenLocation(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	return b.screen(Point{b.x, b.y}), err
}

// ScreenMidpoint returns the center on the screen.
func (r *ElementRect) ScreenMidpoint(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	return b.screen(b.mid()), err
}

// ScreenClickPoint returns the click point on the screen.
func (r *ElementRect) ScreenClickPoint(ctx context.Context) (Point, error) {
	b, err := r.box(ctx)
	return b.screen(b.clickPoint()), err
}

func (b box) mid() Point {
	return Point{b.x + b.width/2, b.y + b.height/2}
}

// clickPoint is the midpoint clamped into the visible part of the viewport.
func (b box) clickPoint() Point {
	p := b.mid()
	if b.innerW > 0 {
		p.X = clamp(p.X, math.Max(b.x, 0), math.Min(b.x+b.width, b.innerW)-1)
	}
	if b.innerH > 0 {
		p.Y = clamp(p.Y, math.Max(b.y, 0), math.Min(b.y+b.height, b.innerH)-1)
	}
	return p
}

func (b box) corners(dx, dy float64) [4]Point {
	l, t := b.x+dx, b.y+dy
	r, btm := l+b.width, t+b.height
	return [4]Point{{l, t}, {r, t}, {r, btm}, {l, btm}}
}

func (b box) screen(p Point) Point {
	chrome := b.outerH - b.innerH
	if chrome < 0 {
		chrome = 0
	}
	return Point{(b.screenX + p.X) * b.dpr, (b.screenY + chrome + p.Y) * b.dpr}
}

// inViewport reports whether p is inside the viewport.
func (b box) inViewport(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && (b.innerW == 0 || p.X < b.innerW) && (b.innerH == 0 || p.Y < b.innerH)
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}

// PageRect reads the geometry of a page and its window.
type PageRect struct {
	p *page
}

type layout struct {
	viewport *cdppage.VisualViewport
	content  Size
}

func (r *PageRect) layout(ctx context.Context) (layout, error) {
	ectx, err := r.p.executor(ctx)
	if err != nil {
		return layout{}, err
	}
	_, _, _, _, vv, content, err := cdppage.GetLayoutMetrics().Do(ectx)
	if err != nil {
		return layout{}, wrapErr(err)
	}
	l := layout{viewport: vv}
	if content != nil {
		l.content = Size{content.Width, content.Height}
	}
	if l.viewport == nil {
		l.viewport = new(cdppage.VisualViewport)
	}
	return l, nil
}

// Size returns the size of the whole document.
func (r *PageRect) Size(ctx context.Context) (Size, error) {
	l, err := r.layout(ctx)
	return l.content, err
}

// ViewportSize returns the size of the visible area, scrollbars excluded.
func (r *PageRect) ViewportSize(ctx context.Context) (Size, error) {
	l, err := r.layout(ctx)
	return Size{l.viewport.ClientWidth, l.viewport.ClientHeight}, err
}

// ScrollPosition returns the document offset of the viewport.
func (r *PageRect) ScrollPosition(ctx context.Context) (Point, error) {
	l, err := r.layout(ctx)
	return Point{l.viewport.PageX, l.viewport.PageY}, err
}

// Window returns the id and bounds of the browser window holding the tab.
func (r *PageRect) Window(ctx context.Context) (browser.WindowID, *browser.Bounds, error) {
	return r.p.window(ctx)
}

// WindowSize returns the outer size of the browser window.
func (r *PageRect) WindowSize(ctx context.Context) (Size, error) {
	_, b, err := r.p.window(ctx)
	if err != nil {
		return Size{}, err
	}
	return Size{float64(b.Width), float64(b.Height)}, nil
}

// WindowLocation returns the position of the browser window on the screen.
func (r *PageRect) WindowLocation(ctx context.Context) (Point, error) {
	_, b, err := r.p.window(ctx)
	if err != nil {
		return Point{}, err
	}
	return Point{float64(b.Left), float64(b.Top)}, nil
}

// WindowState returns normal, minimized, maximized or fullscreen.
func (r *PageRect) WindowState(ctx context.Context) (browser.WindowState, error) {
	_, b, err := r.p.window(ctx)
	if err != nil {
		return "", err
	}
	return b.WindowState, nil
}

// window asks the browser target for the window of the tab.
func (p *page) window(ctx context.Context) (browser.WindowID, *browser.Bounds, error) {
	drv := p.b.driver()
	if drv == nil {
		return 0, nil, ErrPageDisconnected
	}
	id, bounds, err := browser.GetWindowForTarget().
		WithTargetID(target.ID(p.tabID)).
		Do(cdp.WithExecutor(ctx, drv))
	if err != nil {
		return 0, nil, wrapErr(err)
	}
	if bounds == nil {
		bounds = new(browser.Bounds)
	}
	return id, bounds, nil
}
