// Package protect embeds ownership and AI-training opt-out metadata into
// image containers without touching pixel data.
package protect

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrUnreadableImage indicates a malformed container
	ErrUnreadableImage = errors.New("unreadable image")

	// ErrUnsupportedFormat indicates a container without a metadata writer
	ErrUnsupportedFormat = errors.New("unsupported format for metadata embedding")
)

// DefaultAttribution is used when the owner has no display name.
const DefaultAttribution = "simple-media"

const maxAttributionRunes = 256

// Attribution is the ownership statement written into an image.
type Attribution struct {
	Creator string
	Rights  string
}

// Embedder writes Attribution metadata into JPEG, PNG and WebP files.
type Embedder struct {
	defaultCreator string
	now            func() time.Time
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithDefaultCreator sets the creator used for empty attributions.
func WithDefaultCreator(name string) Option {
	return func(e *Embedder) {
		if strings.TrimSpace(name) != "" {
			e.defaultCreator = name
		}
	}
}

// WithClock overrides the time source used for the copyright year.
func WithClock(now func() time.Time) Option {
	return func(e *Embedder) {
		e.now = now
	}
}

// New creates an embedder.
func New(opts ...Option) *Embedder {
	e := &Embedder{defaultCreator: DefaultAttribution, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AttributionFor builds the statement for a creator name.
func (e *Embedder) AttributionFor(creator string) Attribution {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		creator = e.defaultCreator
	}
	if utf8.RuneCountInString(creator) > maxAttributionRunes {
		creator = string([]rune(creator)[:maxAttributionRunes])
	}
	return Attribution{
		Creator: creator,
		Rights:  fmt.Sprintf("© %d %s. All rights reserved. No AI training.", e.now().Year(), creator),
	}
}

// Embed writes attribution metadata for creator into data. Pixel data and
// unrelated metadata are carried over unchanged.
func (e *Embedder) Embed(data []byte, creator string) ([]byte, error) {
	attr := e.AttributionFor(creator)

	mtype := mimetype.Detect(data)
	switch {
	case mtype.Is("image/jpeg"):
		return embedJPEG(data, attr)
	case mtype.Is("image/png"):
		return embedPNG(data, attr)
	case mtype.Is("image/webp"):
		return embedWebP(data, attr)
	case strings.HasPrefix(mtype.String(), "image/"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mtype.String())
	default:
		return nil, fmt.Errorf("%w: detected %s", ErrUnreadableImage, mtype.String())
	}
}
