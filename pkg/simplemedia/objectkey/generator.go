package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates a key of the form {namespace}/{scopeID}/{random}.{ext}
	GenerateKey(namespace, scopeID, ext string) string
}

// RandomGenerator uses a version 4 UUID as the unique component so sibling
// keys cannot be guessed from one another.
type RandomGenerator struct{}

func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{}
}

func (g *RandomGenerator) GenerateKey(namespace, scopeID, ext string) string {
	return Join(namespace, scopeID, uuid.NewString(), ext)
}

// CustomFuncGenerator allows callers to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(namespace, scopeID, ext string) string
}

func NewCustomFuncGenerator(fn func(namespace, scopeID, ext string) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{GenerateFunc: fn}
}

func (g *CustomFuncGenerator) GenerateKey(namespace, scopeID, ext string) string {
	return g.GenerateFunc(namespace, scopeID, ext)
}

// Join assembles a key from its parts, sanitizing each path component.
func Join(namespace, scopeID, id, ext string) string {
	name := sanitizePathComponent(id)
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name = name + "." + sanitizePathComponent(ext)
	}
	return Prefix(namespace, scopeID) + name
}

// Prefix returns the directory-like prefix that holds every key for one
// namespace and scope, including the trailing slash. Scope IDs keep their
// case: "abc" and "ABC" are different owners.
func Prefix(namespace, scopeID string) string {
	return fmt.Sprintf("%s/%s/", sanitizePathComponent(namespace), sanitizePathComponent(scopeID))
}

// InScope reports whether key was generated for the given namespace and scope.
func InScope(key, namespace, scopeID string) bool {
	prefix := Prefix(namespace, scopeID)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := strings.TrimPrefix(key, prefix)
	return rest != "" && !strings.Contains(rest, "/")
}

// Split returns the namespace and scope of a well-formed key.
func Split(key string) (namespace, scopeID string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if !InScope(key, parts[0], parts[1]) {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ExtensionFor maps an accepted image MIME type to the key extension.
func ExtensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}

func sanitizePathComponent(component string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
		"..", "_",
	)
	return replacer.Replace(component)
}
