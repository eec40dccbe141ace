package presigned

import (
	"strings"
	"time"
)

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithSecretKey sets the secret key used for HMAC signing
// The key should be at least 32 bytes for security
func WithSecretKey(key string) Option {
	return func(s *Signer) {
		s.secretKey = []byte(key)
	}
}

// WithBaseURL sets the scheme and host prepended to signed paths
func WithBaseURL(base string) Option {
	return func(s *Signer) {
		s.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithPathPrefix sets the route that receives uploads, e.g. "/blobs"
func WithPathPrefix(prefix string) Option {
	return func(s *Signer) {
		s.pathPrefix = "/" + strings.Trim(prefix, "/")
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}
