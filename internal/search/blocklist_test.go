package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocklist_BlocksHost(t *testing.T) {
	t.Parallel()
	b := NewBlocklist([]string{"Facebook.com", "*.linkedin.com", ".gstatic.com", " ", "*."})

	cases := map[string]bool{
		"facebook.com":         true,
		"m.facebook.com":       false,
		"linkedin.com":         true,
		"in.linkedin.com":      true,
		"fonts.gstatic.com":    true,
		"notlinkedin.com":      false,
		"example.com":          false,
		"":                     false,
		"  IN.LINKEDIN.COM  ":  true,
	}
	for host, want := range cases {
		assert.Equal(t, want, b.BlocksHost(host), host)
	}
}

func TestBlocklist_EmptyPatternsYieldNil(t *testing.T) {
	t.Parallel()
	b := NewBlocklist([]string{"", "  ", "."})
	assert.Nil(t, b)
	assert.False(t, b.BlocksHost("example.com"))
	assert.Equal(t, []string{"https://a.com"}, b.Filter([]string{"https://a.com"}))
}

func TestBlocklist_FilterKeepsOrder(t *testing.T) {
	t.Parallel()
	b := NewBlocklist([]string{"*.youtube.com"})
	got := b.Filter([]string{
		"https://a.com/1",
		"https://www.youtube.com/watch?v=1",
		"https://b.com/2",
		"https://youtube.com/x",
	})
	assert.Equal(t, []string{"https://a.com/1", "https://b.com/2"}, got)
}
