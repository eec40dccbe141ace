package objectkey

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrOutsidePublicBase is returned when a URL does not live under the
// configured public base.
var ErrOutsidePublicBase = errors.New("url is outside the public base")

// Resolver converts between storage keys and public delivery URLs. Public URLs
// are always derived from keys and never stored.
type Resolver struct {
	PublicBaseURL string // e.g., "https://cdn.example.com/media"
}

// NewResolver creates a resolver for the given public base.
func NewResolver(publicBaseURL string) *Resolver {
	return &Resolver{PublicBaseURL: strings.TrimSuffix(publicBaseURL, "/")}
}

// PublicURL returns the delivery URL for a key.
func (r *Resolver) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", r.PublicBaseURL, strings.TrimPrefix(key, "/"))
}

// KeyFromURL extracts the storage key from a public URL. Any URL that does
// not start with the public base, or that tries to escape it, is rejected.
func (r *Resolver) KeyFromURL(rawURL string) (string, error) {
	base := r.PublicBaseURL + "/"
	if r.PublicBaseURL == "" || !strings.HasPrefix(rawURL, base) {
		return "", ErrOutsidePublicBase
	}
	rest := strings.TrimPrefix(rawURL, base)
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsidePublicBase, err)
	}
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrOutsidePublicBase
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrOutsidePublicBase
		}
	}
	return key, nil
}
