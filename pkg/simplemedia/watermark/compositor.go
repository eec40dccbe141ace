// Package watermark composites the platform brand mark onto images.
package watermark

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnreadableImage indicates the input bytes could not be decoded
	ErrUnreadableImage = errors.New("unreadable image")

	// ErrInvalidOptions indicates out-of-range compositing options
	ErrInvalidOptions = errors.New("invalid watermark options")

	// ErrEncodeFailed indicates the composited image could not be re-encoded
	ErrEncodeFailed = errors.New("watermark encode failed")
)

// DefaultText is rendered when no brand mark image is available.
const DefaultText = "© simple-media"

var fallbackFont = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(goregular.TTF)
})

// Result describes a composited image.
type Result struct {
	Data     []byte
	Format   string          // encoder format name, e.g. "jpeg"
	MarkRect image.Rectangle // where the mark was drawn
	Geometry Geometry
	TextMark bool // true when the synthesized text mark was used
}

// Compositor overlays a brand mark. It is safe for concurrent use.
type Compositor struct {
	mark   image.Image
	text   string
	logger *slog.Logger
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithMark uses an already decoded brand mark.
func WithMark(img image.Image) Option {
	return func(c *Compositor) {
		c.mark = img
	}
}

// WithMarkFile loads the brand mark from path. A load failure is logged and
// the compositor falls back to the text mark.
func WithMarkFile(path string) Option {
	return func(c *Compositor) {
		if path == "" {
			return
		}
		img, err := LoadMark(path)
		if err != nil {
			c.logger.Warn("brand mark unavailable, using text mark", "path", path, "err", err)
			return
		}
		c.mark = img
	}
}

// WithText sets the fallback text.
func WithText(text string) Option {
	return func(c *Compositor) {
		if strings.TrimSpace(text) != "" {
			c.text = text
		}
	}
}

// WithLogger sets the logger. It must come before WithMarkFile to take effect
// for load warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compositor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a compositor.
func New(opts ...Option) *Compositor {
	c := &Compositor{
		text:   DefaultText,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadMark reads and decodes a brand mark image.
func LoadMark(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode brand mark %s: %w", path, err)
	}
	return img, nil
}

// Apply composites the mark onto data and re-encodes the result in the
// source format. WebP sources are written back as PNG.
func (c *Compositor) Apply(data []byte, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	b := src.Bounds()
	geo := ComputeGeometry(b.Dx(), b.Dy(), opts)

	mark, textMark, err := c.renderMark(geo.MarkSize)
	if err != nil {
		return nil, err
	}
	mb := mark.Bounds()
	pt := Placement(b.Dx(), b.Dy(), mb.Dx(), mb.Dy(), ParsePosition(string(opts.Position)), geo.Margin)
	out := imaging.Overlay(src, mark, pt, opts.Opacity)

	encFormat, err := imaging.FormatFromExtension(format)
	if err != nil {
		encFormat = imaging.PNG
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, encFormat, imaging.JPEGQuality(92)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Format:   strings.ToLower(encFormat.String()),
		MarkRect: image.Rectangle{Min: pt, Max: pt.Add(image.Pt(mb.Dx(), mb.Dy()))},
		Geometry: geo,
		TextMark: textMark,
	}, nil
}

// renderMark returns the brand mark scaled so its longer side is markSize.
func (c *Compositor) renderMark(markSize int) (image.Image, bool, error) {
	if c.mark != nil {
		mb := c.mark.Bounds()
		w, h := FitMark(mb.Dx(), mb.Dy(), markSize)
		return imaging.Resize(c.mark, w, h, imaging.Lanczos), false, nil
	}
	text, err := c.textMark()
	if err != nil {
		return nil, true, err
	}
	tb := text.Bounds()
	w, h := FitMark(tb.Dx(), tb.Dy(), markSize)
	return imaging.Resize(text, w, h, imaging.Lanczos), true, nil
}

// textMark renders the fallback text at a fixed reference size with a dark
// outline so it stays legible on light backgrounds.
func (c *Compositor) textMark() (image.Image, error) {
	f, err := fallbackFont()
	if err != nil {
		return nil, fmt.Errorf("parse fallback font: %w", err)
	}

	const size = 64.0
	face := truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingFull})
	defer face.Close()

	metrics := face.Metrics()
	pad := 4
	width := font.MeasureString(face, c.text).Ceil() + 2*pad
	height := (metrics.Ascent + metrics.Descent).Ceil() + 2*pad

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.Transparent, image.Point{}, draw.Src)

	baseline := fixed.P(pad, pad+metrics.Ascent.Ceil())
	shadow := &font.Drawer{Dst: canvas, Src: image.NewUniform(color.NRGBA{A: 200}), Face: face}
	for _, d := range []image.Point{{-2, 0}, {2, 0}, {0, -2}, {0, 2}} {
		shadow.Dot = baseline.Add(fixed.P(d.X, d.Y))
		shadow.DrawString(c.text)
	}
	fg := &font.Drawer{Dst: canvas, Src: image.White, Face: face, Dot: baseline}
	fg.DrawString(c.text)
	return canvas, nil
}
