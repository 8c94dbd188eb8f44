package drission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxClickPoint(t *testing.T) {
	tests := []struct {
		name string
		b    box
		want Point
	}{
		{"inside", box{x: 10, y: 20, width: 100, height: 40, innerW: 800, innerH: 600}, Point{60, 40}},
		{"partly above", box{x: 0, y: -30, width: 100, height: 40, innerW: 800, innerH: 600}, Point{50, 0}},
		{"partly right", box{x: 750, y: 0, width: 200, height: 20, innerW: 800, innerH: 600}, Point{799, 10}},
		{"no viewport", box{x: -50, y: -50, width: 20, height: 20}, Point{-40, -40}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, test.b.clickPoint())
		})
	}
}

func TestBoxGeometry(t *testing.T) {
	b := box{x: 10, y: 20, width: 30, height: 40, innerW: 800, innerH: 500, outerH: 580, screenX: 100, screenY: 50, dpr: 2}

	assert.Equal(t, Point{25, 40}, b.mid())
	assert.Equal(t, [4]Point{{10, 20}, {40, 20}, {40, 60}, {10, 60}}, b.corners(0, 0))
	assert.Equal(t, [4]Point{{15, 120}, {45, 120}, {45, 160}, {15, 160}}, b.corners(5, 100))
	// 80px of window chrome above the viewport
	assert.Equal(t, Point{220, 300}, b.screen(Point{10, 20}))

	assert.True(t, b.inViewport(Point{0, 0}))
	assert.True(t, b.inViewport(Point{799, 499}))
	assert.False(t, b.inViewport(Point{800, 10}))
	assert.False(t, b.inViewport(Point{10, -1}))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5.0, clamp(5, 0, 10))
	assert.Equal(t, 0.0, clamp(-3, 0, 10))
	assert.Equal(t, 10.0, clamp(12, 0, 10))
	// empty range
	assert.Equal(t, 4.0, clamp(7, 4, 2))
}
