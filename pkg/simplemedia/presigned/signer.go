package presigned

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer generates and validates HMAC-signed upload URLs
type Signer struct {
	secretKey  []byte
	baseURL    string
	pathPrefix string
	now        func() time.Time
}

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		pathPrefix: "/blobs",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUpload returns a URL allowing one PUT of exactly contentLength bytes of
// contentType to key until expiresIn elapses.
//
//	PUT {base}/blobs/{key}?ct=image%2Fpng&len=48213&expires=1696789012&signature=abc123...
func (s *Signer) SignUpload(key, contentType string, contentLength int64, expiresIn time.Duration) (string, error) {
	if len(s.secretKey) == 0 {
		return "", ErrNoSecretKey
	}
	expiresAt := s.now().Add(expiresIn).Unix()
	path := s.pathFor(key)
	signature := s.sign(http.MethodPut, path, contentType, contentLength, expiresAt)

	q := url.Values{}
	q.Set("ct", contentType)
	q.Set("len", strconv.FormatInt(contentLength, 10))
	q.Set("expires", strconv.FormatInt(expiresAt, 10))
	q.Set("signature", signature)
	return fmt.Sprintf("%s%s?%s", s.baseURL, path, q.Encode()), nil
}

// ValidateUpload checks the signature, expiry and declared content of an
// upload request and returns the object key it may write.
func (s *Signer) ValidateUpload(r *http.Request) (string, error) {
	if len(s.secretKey) == 0 {
		return "", ErrNoSecretKey
	}
	query := r.URL.Query()
	signature := query.Get("signature")
	expiresStr := query.Get("expires")
	if signature == "" {
		return "", ErrMissingSignature
	}
	if expiresStr == "" {
		return "", ErrMissingExpiration
	}
	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}
	if s.now().Unix() > expiresAt {
		return "", ErrExpired
	}

	contentType := query.Get("ct")
	contentLength, err := strconv.ParseInt(query.Get("len"), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	expected := s.sign(r.Method, r.URL.Path, contentType, contentLength, expiresAt)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrInvalidSignature
	}

	if got := strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0]); !strings.EqualFold(got, contentType) {
		return "", fmt.Errorf("%w: content type %q, signed %q", ErrContentMismatch, got, contentType)
	}
	if r.ContentLength != contentLength {
		return "", fmt.Errorf("%w: length %d, signed %d", ErrContentMismatch, r.ContentLength, contentLength)
	}

	key := strings.TrimPrefix(r.URL.Path, s.pathPrefix+"/")
	if key == "" || key == r.URL.Path {
		return "", ErrInvalidSignature
	}
	return key, nil
}

// IsEnabled returns true if a secret key is set
func (s *Signer) IsEnabled() bool {
	return len(s.secretKey) > 0
}

func (s *Signer) pathFor(key string) string {
	return s.pathPrefix + "/" + strings.TrimPrefix(key, "/")
}

// sign computes HMAC-SHA256 over METHOD|PATH|EXPIRES|CONTENT-TYPE|LENGTH
func (s *Signer) sign(method, path, contentType string, contentLength int64, expiresAt int64) string {
	payload := fmt.Sprintf("%s|%s|%d|%s|%d", method, path, expiresAt, strings.ToLower(contentType), contentLength)
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
