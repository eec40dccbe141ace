// Package crop produces fixed-size previews centred on a focal point.
package crop

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnreadableImage indicates the source could not be decoded
	ErrUnreadableImage = errors.New("unreadable image")

	// ErrInvalidTarget indicates a non-positive target size
	ErrInvalidTarget = errors.New("invalid crop target")
)

// Size is a target width and height in pixels.
type Size struct {
	Width  int
	Height int
}

// FocalPoint is a position in percent of the source, 0-100 on each axis.
type FocalPoint struct {
	X float64
	Y float64
}

// Rect returns the largest rectangle with the target aspect ratio that fits
// inside a srcW x srcH image, centred on focal (or the image centre when
// focal is nil) and clamped to the image.
func Rect(srcW, srcH int, target Size, focal *FocalPoint) image.Rectangle {
	targetRatio := float64(target.Width) / float64(target.Height)
	w, h := srcW, srcH
	if float64(srcW)/float64(srcH) > targetRatio {
		w = int(math.Round(float64(srcH) * targetRatio))
	} else {
		h = int(math.Round(float64(srcW) / targetRatio))
	}
	w = max(1, min(w, srcW))
	h = max(1, min(h, srcH))

	cx, cy := float64(srcW)/2, float64(srcH)/2
	if focal != nil {
		cx = float64(srcW) * clampPercent(focal.X) / 100
		cy = float64(srcH) * clampPercent(focal.Y) / 100
	}

	x := int(math.Round(cx - float64(w)/2))
	y := int(math.Round(cy - float64(h)/2))
	x = max(0, min(x, srcW-w))
	y = max(0, min(y, srcH-h))
	return image.Rect(x, y, x+w, y+h)
}

// Crop cuts the focal rectangle out of data and resizes it to target,
// returning PNG bytes.
func Crop(data []byte, target Size, focal *FocalPoint) ([]byte, error) {
	if target.Width <= 0 || target.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidTarget, target.Width, target.Height)
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	b := src.Bounds()
	r := Rect(b.Dx(), b.Dy(), target, focal).Add(b.Min)
	out := imaging.Resize(imaging.Crop(src, r), target.Width, target.Height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 50
	}
	return math.Max(0, math.Min(100, v))
}
