package watermark

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Position selects the corner a mark is anchored to.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// ParsePosition maps a stored setting to a Position. Unknown or empty values
// fall back to BottomRight.
func ParsePosition(s string) Position {
	switch p := Position(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", "-")))); p {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return p
	default:
		return BottomRight
	}
}

// Options controls how a mark is rendered onto an image.
type Options struct {
	Position    Position
	Opacity     float64 // (0, 1]
	SizeRatio   float64 // (0, 1], fraction of the shorter image side
	MarginRatio float64 // >= 0, fraction of the mark size
}

// DefaultOptions returns the platform defaults.
func DefaultOptions() Options {
	return Options{
		Position:    BottomRight,
		Opacity:     0.6,
		SizeRatio:   0.12,
		MarginRatio: 0.2,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.Opacity <= 0 || o.Opacity > 1 {
		return fmt.Errorf("%w: opacity %v not in (0,1]", ErrInvalidOptions, o.Opacity)
	}
	if o.SizeRatio <= 0 || o.SizeRatio > 1 {
		return fmt.Errorf("%w: size ratio %v not in (0,1]", ErrInvalidOptions, o.SizeRatio)
	}
	if o.MarginRatio < 0 {
		return fmt.Errorf("%w: margin ratio %v is negative", ErrInvalidOptions, o.MarginRatio)
	}
	return nil
}

// Geometry is the size of the mark and its distance from the anchored edges.
type Geometry struct {
	MarkSize int
	Margin   int
}

// ComputeGeometry derives mark size and margin for an image of the given
// dimensions. The mark size tracks the shorter side so portrait, landscape and
// square inputs get proportionally identical marks.
func ComputeGeometry(width, height int, o Options) Geometry {
	shorter := min(width, height)
	markSize := int(math.Round(float64(shorter) * o.SizeRatio))
	markSize = max(1, min(markSize, shorter))
	return Geometry{
		MarkSize: markSize,
		Margin:   int(math.Round(float64(markSize) * o.MarginRatio)),
	}
}

// FitMark scales mark dimensions so the longer side equals markSize while
// keeping the native aspect ratio.
func FitMark(markW, markH, markSize int) (int, int) {
	if markW <= 0 || markH <= 0 {
		return markSize, markSize
	}
	if markW >= markH {
		h := int(math.Round(float64(markSize) * float64(markH) / float64(markW)))
		return markSize, max(1, h)
	}
	w := int(math.Round(float64(markSize) * float64(markW) / float64(markH)))
	return max(1, w), markSize
}

// Placement returns the top-left point of a markW x markH mark anchored to
// pos with the given margin. The result is clamped so the mark never leaves
// the image.
func Placement(width, height, markW, markH int, pos Position, margin int) image.Point {
	var x, y int
	switch pos {
	case TopLeft:
		x, y = margin, margin
	case TopRight:
		x, y = width-markW-margin, margin
	case BottomLeft:
		x, y = margin, height-markH-margin
	default:
		x, y = width-markW-margin, height-markH-margin
	}
	return image.Pt(clamp(x, 0, width-markW), clamp(y, 0, height-markH))
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(v, hi))
}
