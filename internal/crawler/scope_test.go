package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeAllows(t *testing.T) {
	s, err := NewScope("http://Host/pub", []string{`/pub/`}, []string{`\.git/`})
	require.NoError(t, err)

	tests := []struct {
		url  string
		want bool
	}{
		{"http://host/pub/linux/", true},
		{"http://HOST/pub/linux/", true},
		{"http://host/pub/", true},
		{"http://host/public/", false},
		{"http://host/", false},
		{"https://host/pub/linux/", false},
		{"http://other/pub/linux/", false},
		{"http://host/pub/repo/.git/", false},
		{"::bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Allows(tt.url))
		})
	}
}

func TestScopeIncludePatterns(t *testing.T) {
	s, err := NewScope("http://host/", []string{`/isos/`, `/videos/`}, nil)
	require.NoError(t, err)

	assert.True(t, s.Allows("http://host/isos/"))
	assert.True(t, s.Allows("http://host/videos/2024/"))
	assert.False(t, s.Allows("http://host/music/"))
}

func TestScopeInvalidPattern(t *testing.T) {
	_, err := NewScope("http://host/", []string{"("}, nil)
	assert.Error(t, err)
}
