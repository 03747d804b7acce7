package crawler

import (
	"errors"
	"path"
	"strings"
)

// ErrSurfaceUnset marks a variant that cannot run because no search surface is
// configured for it.
var ErrSurfaceUnset = errors.New("search surface not configured")

// ErrNothingToSearch marks a variant whose plan is empty for the target, such
// as an official-website crawl without a website.
var ErrNothingToSearch = errors.New("no queries planned")

// Tag names a crawler variant in job payloads.
type Tag string

// Known variant tags.
const (
	TagGoogle     Tag = "GOOGLE"
	TagNews       Tag = "NEWS"
	TagRegulatory Tag = "REGULATORY_DATABASES"
	TagOfficial   Tag = "OFFICIAL_WEBSITE"
)

// Category directory names.
const (
	CategoryGoogle     = "Google"
	CategoryNews       = "News"
	CategoryRegulatory = "Regulatory Databases"
	CategoryOfficial   = "OfficialWebsite"
)

// DirectorsDir holds per-director subtrees under a category.
const DirectorsDir = "Directors"

// Exchange is a regulated exchange searched by site restriction.
type Exchange struct {
	Name string `mapstructure:"name"`
	Site string `mapstructure:"site"`
}

// DefaultExchanges are the exchanges searched by the regulatory variant.
func DefaultExchanges() []Exchange {
	return []Exchange{
		{Name: "BSE", Site: "https://www.bseindia.com/"},
		{Name: "NSE", Site: "https://www.nseindia.com/"},
	}
}

// Variant is the configuration record of one crawler strategy. All variants
// share Plan; they differ only in data.
type Variant struct {
	Tag                 Tag
	Category            string
	Surface             string
	RecursesToDirectors bool
	UseProxy            bool
	// Exchanges are searched with the stripped subject name, bypassing the
	// proxy, before the standard pattern.
	Exchanges []Exchange
	// SiteRestricted replaces the standard pattern with one query limited to
	// the job's site URL; without one the variant plans nothing.
	SiteRestricted bool
}

// Target is what a variant searches for.
type Target struct {
	JobID      string
	Subject    string
	Directors  []string
	SiteURL    string
	PageBudget int
}

// Query is one planned search. Dir is relative to the work root.
type Query struct {
	Text     string
	Dir      string
	Surface  string
	UseProxy bool
	// Label is a short human description for logs.
	Label string
}

// Plan returns the ordered queries v issues for t.
func (v Variant) Plan(t Target) ([]Query, error) {
	if v.Surface == "" {
		return nil, ErrSurfaceUnset
	}
	root := path.Join(t.JobID, v.Category)

	if v.SiteRestricted {
		if strings.TrimSpace(t.SiteURL) == "" {
			return nil, nil
		}
		return []Query{v.query(SiteRiskQuery(t.SiteURL, t.Subject), root, v.UseProxy, "site "+t.SiteURL)}, nil
	}

	var queries []Query
	if len(v.Exchanges) > 0 {
		stripped := StripCorporateSuffixes(t.Subject)
		for _, ex := range v.Exchanges {
			queries = append(queries, v.query(ExchangeQuery(ex.Site, stripped), path.Join(root, ex.Name), false, ex.Name))
		}
	}
	queries = append(queries, v.languagePair(t.Subject, root, "subject")...)
	if v.RecursesToDirectors {
		for _, director := range t.Directors {
			name := strings.TrimSpace(director)
			if name == "" {
				continue
			}
			dir := path.Join(root, DirectorsDir, pathSegment(name))
			queries = append(queries, v.languagePair(name, dir, "director "+name)...)
		}
	}
	return queries, nil
}

func (v Variant) languagePair(name, dir, label string) []Query {
	return []Query{
		v.query(RiskQuery(name, LangEnglish), dir, v.UseProxy, label),
		v.query(RiskQuery(name, LangHindi), path.Join(dir, LangHindi), v.UseProxy, label+" (Hindi)"),
	}
}

func (v Variant) query(text, dir string, useProxy bool, label string) Query {
	return Query{Text: text, Dir: dir, Surface: v.Surface, UseProxy: useProxy, Label: label}
}

// pathSegment keeps a director name usable as a single directory name.
func pathSegment(name string) string {
	r := strings.NewReplacer("/", "_", `\`, "_")
	s := r.Replace(name)
	if s == "." || s == ".." {
		return "_"
	}
	return s
}
