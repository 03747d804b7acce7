package search_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/due-diligence-crawler/internal/search"
)

func TestExtractURLs(t *testing.T) {
	html := `<html><body>
<a class="gs-title" href=" https://a.com/x ">A</a>
<a class="gs-title" href="https://a.com/x">dup</a>
<a class="gs-title" href="http://b.org/y?q=1">B</a>
<a class="gs-title">no href</a>
<a class="gs-title" href="/local">rel</a>
<a class="gs-title" href="mailto:a@b.c">mail</a>
<a class="other" href="https://ignored.com">other</a>
</body></html>`

	urls, err := search.ExtractURLs(html, "a.gs-title")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.com/x", "http://b.org/y?q=1"}, urls)
}

func TestExtractURLs_NoMatches(t *testing.T) {
	urls, err := search.ExtractURLs("<html><body><p>nothing</p></body></html>", "a.gs-title")
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestCandidateSet(t *testing.T) {
	set := search.NewCandidateSet()
	assert.True(t, set.Add("https://a.com"))
	assert.False(t, set.Add(" https://a.com "))
	assert.False(t, set.Add("  "))
	assert.Equal(t, 2, set.AddAll([]string{"https://b.com", "https://a.com", "https://c.com"}))
	assert.True(t, set.Contains("https://b.com"))
	assert.False(t, set.Contains("https://d.com"))
	assert.Equal(t, 3, set.Len())

	urls := set.URLs()
	assert.Equal(t, []string{"https://a.com", "https://b.com", "https://c.com"}, urls)
	urls[0] = "mutated"
	assert.Equal(t, "https://a.com", set.URLs()[0])
}

func TestSelectors_PageLinks(t *testing.T) {
	sel := search.DefaultSelectors()
	assert.Equal(t, `div[aria-label="Page 3"]`, sel.PageLinkFor(3))
	assert.Equal(t, `div.gsc-cursor-current-page[aria-label="Page 2"]`, sel.CurrentPageFor(2))
}
