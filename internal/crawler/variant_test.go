package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCorporateSuffixes(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"ACME Pvt Ltd":                  "acme",
		"acme PVT LTD":                  "acme",
		"Acme":                          "acme",
		"Acme Private Limited":          "acme",
		"Acme Ltd.":                     "acme",
		"  Tata   Steel  Limited ":      "tata steel",
		"Privately Held Widgets":        "privately held widgets",
		"Ltdx Holdings":                 "ltdx holdings",
		"Reliance Industries Pvt. Ltd.": "reliance industries",
	}
	for in, want := range tests {
		got := StripCorporateSuffixes(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, StripCorporateSuffixes(got), "idempotent for %q", in)
	}
}

func TestRiskQuery(t *testing.T) {
	t.Parallel()

	en := RiskQuery("Acme Co", LangEnglish)
	assert.True(t, strings.HasPrefix(en, `-filetype:csv -filetype:xls -filetype:xlsx "Acme Co" ("facilitation payment" | litigation | `))
	assert.True(t, strings.HasSuffix(en, `| condemn | accuse | implicate)`))

	hi := RiskQuery("Acme Co", LangHindi)
	assert.True(t, strings.HasPrefix(hi, `-filetype:csv -filetype:xls -filetype:xlsx "Acme Co" (अपराध | रिश्वत`))
	assert.True(t, strings.HasSuffix(hi, `| जेल | भ्रष्टाचार)`))

	assert.Equal(t,
		`-filetype:pdf -filetype:xls -filetype:xlsx site:https://www.bseindia.com/ "acme"`,
		ExchangeQuery("https://www.bseindia.com/", "acme"))
	assert.True(t, strings.HasPrefix(SiteRiskQuery("acme.com", "Acme"), `site:acme.com "Acme" ("facilitation payment"`))
}

func testRegistry() *Registry {
	return NewRegistry(Surfaces{
		Google:     "https://cse.example.com/google",
		News:       "https://cse.example.com/news",
		Regulatory: "https://cse.example.com/regulatory",
	}, DefaultProxyPolicy(), nil)
}

func dirs(queries []Query) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = q.Dir
	}
	return out
}

func TestPlan_GoogleRecursesToDirectors(t *testing.T) {
	t.Parallel()

	v, ok := testRegistry().Lookup("google")
	require.True(t, ok)
	queries, err := v.Plan(Target{JobID: "job-1", Subject: "Acme Co", Directors: []string{"Jane Doe", " ", "A/B"}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"job-1/Google",
		"job-1/Google/Hindi",
		"job-1/Google/Directors/Jane Doe",
		"job-1/Google/Directors/Jane Doe/Hindi",
		"job-1/Google/Directors/A_B",
		"job-1/Google/Directors/A_B/Hindi",
	}, dirs(queries))
	assert.Equal(t, RiskQuery("Jane Doe", LangEnglish), queries[2].Text)
	for _, q := range queries {
		assert.True(t, q.UseProxy)
		assert.Equal(t, "https://cse.example.com/google", q.Surface)
	}
}

func TestPlan_NewsIgnoresDirectors(t *testing.T) {
	t.Parallel()

	v, _ := testRegistry().Lookup("NEWS")
	queries, err := v.Plan(Target{JobID: "j", Subject: "Acme", Directors: []string{"Jane Doe"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"j/News", "j/News/Hindi"}, dirs(queries))
}

func TestPlan_RegulatoryExchangesFirstWithoutProxy(t *testing.T) {
	t.Parallel()

	v, _ := testRegistry().Lookup("Regulatory_Databases")
	queries, err := v.Plan(Target{JobID: "j", Subject: "Acme Pvt Ltd", Directors: []string{"Jane Doe"}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"j/Regulatory Databases/BSE",
		"j/Regulatory Databases/NSE",
		"j/Regulatory Databases",
		"j/Regulatory Databases/Hindi",
	}, dirs(queries))
	assert.Equal(t, ExchangeQuery("https://www.bseindia.com/", "acme"), queries[0].Text)
	assert.False(t, queries[0].UseProxy)
	assert.False(t, queries[1].UseProxy)
	assert.True(t, queries[2].UseProxy)
	assert.Contains(t, queries[2].Text, `"Acme Pvt Ltd"`)
}

func TestPlan_OfficialWebsite(t *testing.T) {
	t.Parallel()

	v, _ := testRegistry().Lookup("official_website")
	queries, err := v.Plan(Target{JobID: "j", Subject: "Acme"})
	require.NoError(t, err)
	assert.Empty(t, queries)

	queries, err = v.Plan(Target{JobID: "j", Subject: "Acme", SiteURL: "acme.com"})
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "j/OfficialWebsite", queries[0].Dir)
	assert.Equal(t, "https://cse.example.com/google", queries[0].Surface)
	assert.Equal(t, SiteRiskQuery("acme.com", "Acme"), queries[0].Text)
}

func TestPlan_SurfaceUnset(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Surfaces{Google: "https://g"}, ProxyPolicy{}, nil)
	v, ok := r.Lookup("NEWS")
	require.True(t, ok)
	_, err := v.Plan(Target{JobID: "j", Subject: "Acme"})
	assert.ErrorIs(t, err, ErrSurfaceUnset)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := testRegistry()
	assert.Equal(t, []Tag{TagGoogle, TagNews, TagRegulatory, TagOfficial}, r.Tags())
	_, ok := r.Lookup(" news ")
	assert.True(t, ok)
	_, ok = r.Lookup("BING")
	assert.False(t, ok)

	custom := NewRegistryOf(Variant{Tag: "x", Category: "X"}, Variant{Tag: "X", Category: "Y"})
	v, ok := custom.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, "Y", v.Category)
	assert.Len(t, custom.Tags(), 1)
}
