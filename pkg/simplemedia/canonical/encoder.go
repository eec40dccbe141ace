// Package canonical re-encodes uploads into the platform's storage format.
package canonical

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnreadableImage indicates the input could not be decoded
	ErrUnreadableImage = errors.New("unreadable image")

	// ErrEncodeFailed indicates the canonical encoding failed
	ErrEncodeFailed = errors.New("canonical encode failed")

	// ErrUnsupportedFormat indicates an unknown target format
	ErrUnsupportedFormat = errors.New("unsupported canonical format")
)

// Supported target formats.
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
)

// Policy is the tuning applied to every stored asset.
type Policy struct {
	Format       string // "webp" or "jpeg"
	Quality      int    // 1-100
	MaxDimension int    // longer side bound; 0 disables resizing
}

// DefaultPolicy returns the platform defaults.
func DefaultPolicy() Policy {
	return Policy{Format: FormatWebP, Quality: 82, MaxDimension: 2560}
}

// Validate checks a policy.
func (p Policy) Validate() error {
	switch strings.ToLower(p.Format) {
	case FormatWebP, FormatJPEG, "jpg":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, p.Format)
	}
	if p.Quality < 1 || p.Quality > 100 {
		return fmt.Errorf("quality %d not in [1,100]", p.Quality)
	}
	if p.MaxDimension < 0 {
		return fmt.Errorf("max dimension %d is negative", p.MaxDimension)
	}
	return nil
}

// Result is an encoded asset and how to store it.
type Result struct {
	Data        []byte
	Extension   string
	ContentType string
	Format      string
	Width       int
	Height      int
	Compressed  bool // false for pass-through inputs
}

// Encoder converts images to the canonical format.
type Encoder struct {
	policy Policy
}

// New creates an encoder. A zero policy uses DefaultPolicy.
func New(policy Policy) (*Encoder, error) {
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	policy.Format = strings.ToLower(policy.Format)
	if policy.Format == "jpg" {
		policy.Format = FormatJPEG
	}
	return &Encoder{policy: policy}, nil
}

// Policy returns the active policy.
func (e *Encoder) Policy() Policy {
	return e.policy
}

// Encode decodes data, bakes EXIF orientation into pixels, bounds its size
// and writes it in the canonical format. Animated GIF inputs are returned
// unmodified because re-encoding would drop all frames but the first.
func (e *Encoder) Encode(data []byte) (*Result, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	if format == "gif" {
		return &Result{
			Data:        data,
			Extension:   "gif",
			ContentType: "image/gif",
			Format:      "gif",
			Width:       cfg.Width,
			Height:      cfg.Height,
		}, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	img = e.bound(img)

	var buf bytes.Buffer
	res := &Result{Format: e.policy.Format, Compressed: true}
	switch e.policy.Format {
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(e.policy.Quality)})
		res.Extension, res.ContentType = "webp", "image/webp"
	default:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.policy.Quality))
		res.Extension, res.ContentType = "jpg", "image/jpeg"
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	b := img.Bounds()
	res.Data = buf.Bytes()
	res.Width, res.Height = b.Dx(), b.Dy()
	return res, nil
}

func (e *Encoder) bound(img image.Image) image.Image {
	limit := e.policy.MaxDimension
	b := img.Bounds()
	if limit <= 0 || (b.Dx() <= limit && b.Dy() <= limit) {
		return img
	}
	return imaging.Fit(img, limit, limit, imaging.Lanczos)
}
