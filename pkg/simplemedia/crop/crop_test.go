package crop

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia/internal/imagetest"
)

func TestRect(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		target Size
		focal  *FocalPoint
		want   image.Rectangle
	}{
		{"centre wide to square", 1200, 800, Size{100, 100}, nil, image.Rect(200, 0, 1000, 800)},
		{"centre tall to wide", 600, 1200, Size{1200, 630}, nil, image.Rect(0, 443, 600, 758)},
		{"focal left edge clamped", 1200, 800, Size{100, 100}, &FocalPoint{X: 0, Y: 50}, image.Rect(0, 0, 800, 800)},
		{"focal right", 1200, 800, Size{100, 100}, &FocalPoint{X: 75, Y: 50}, image.Rect(400, 0, 1200, 800)},
		{"focal out of range", 1000, 1000, Size{2, 1}, &FocalPoint{X: 150, Y: -20}, image.Rect(0, 0, 1000, 500)},
		{"same ratio", 400, 200, Size{200, 100}, &FocalPoint{X: 10, Y: 90}, image.Rect(0, 0, 400, 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rect(tt.w, tt.h, tt.target, tt.focal)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.In(image.Rect(0, 0, tt.w, tt.h)))
		})
	}
}

func TestRectKeepsAspect(t *testing.T) {
	targets := []Size{{1, 1}, {16, 9}, {9, 16}, {1200, 630}}
	for _, target := range targets {
		r := Rect(1000, 750, target, &FocalPoint{X: 30, Y: 70})
		want := float64(target.Width) / float64(target.Height)
		got := float64(r.Dx()) / float64(r.Dy())
		assert.InDelta(t, want, got, 0.01, "%v", target)
		assert.True(t, r.Dx() == 1000 || r.Dy() == 750, "largest fit for %v", target)
		assert.False(t, math.IsNaN(got))
	}
}

func TestCropProducesTargetPNG(t *testing.T) {
	out, err := Crop(imagetest.JPEG(t, 640, 480), Size{Width: 120, Height: 63}, &FocalPoint{X: 50, Y: 20})
	require.NoError(t, err)

	img, format := imagetest.Decode(t, out)
	assert.Equal(t, "png", format)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 63, img.Bounds().Dy())
}

func TestCropErrors(t *testing.T) {
	_, err := Crop([]byte("nope"), Size{10, 10}, nil)
	assert.ErrorIs(t, err, ErrUnreadableImage)

	_, err = Crop(imagetest.PNG(t, 10, 10), Size{0, 10}, nil)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}
