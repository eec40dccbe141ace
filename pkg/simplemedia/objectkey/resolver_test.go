package objectkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverPublicURL(t *testing.T) {
	r := NewResolver("https://cdn.example.com/media/")

	assert.Equal(t, "https://cdn.example.com/media/profiles/u1/a.webp", r.PublicURL("profiles/u1/a.webp"))
	assert.Equal(t, "", r.PublicURL(""))
}

func TestResolverKeyFromURL(t *testing.T) {
	r := NewResolver("https://cdn.example.com/media")

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "round trip", url: r.PublicURL("submissions/u1/a.jpg"), want: "submissions/u1/a.jpg"},
		{name: "query stripped", url: "https://cdn.example.com/media/submissions/u1/a.jpg?v=2", want: "submissions/u1/a.jpg"},
		{name: "escaped", url: "https://cdn.example.com/media/submissions/u%201/a.jpg", want: "submissions/u 1/a.jpg"},
		{name: "other host", url: "https://evil.example.com/media/submissions/u1/a.jpg", wantErr: true},
		{name: "prefix lookalike", url: "https://cdn.example.com/media-other/a.jpg", wantErr: true},
		{name: "traversal", url: "https://cdn.example.com/media/../secrets/a.jpg", wantErr: true},
		{name: "encoded traversal", url: "https://cdn.example.com/media/%2e%2e/a.jpg", wantErr: true},
		{name: "empty key", url: "https://cdn.example.com/media/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.KeyFromURL(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrOutsidePublicBase)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolverWithoutBase(t *testing.T) {
	_, err := NewResolver("").KeyFromURL("https://cdn.example.com/a.jpg")
	assert.ErrorIs(t, err, ErrOutsidePublicBase)
}
