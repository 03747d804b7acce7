package search

import (
	"fmt"
	"time"
)

// Selectors locate the elements of a programmable-search results page.
type Selectors struct {
	QueryInput    string `mapstructure:"query_input"`
	ResultsMarker string `mapstructure:"results_marker"`
	ResultAnchor  string `mapstructure:"result_anchor"`
	Pager         string `mapstructure:"pager"`
	// PageLink is a format string taking the 1-based page number.
	PageLink    string `mapstructure:"page_link"`
	CurrentPage string `mapstructure:"current_page"`
}

// DefaultSelectors match a Google programmable search element.
func DefaultSelectors() Selectors {
	return Selectors{
		QueryInput:    `input[name="search"]`,
		ResultsMarker: `div[id="resInfo-0"]`,
		ResultAnchor:  `a.gs-title`,
		Pager:         `div.gsc-cursor`,
		PageLink:      `div[aria-label="Page %d"]`,
		CurrentPage:   `div.gsc-cursor-current-page`,
	}
}

// withDefaults fills blank selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.QueryInput == "" {
		s.QueryInput = d.QueryInput
	}
	if s.ResultsMarker == "" {
		s.ResultsMarker = d.ResultsMarker
	}
	if s.ResultAnchor == "" {
		s.ResultAnchor = d.ResultAnchor
	}
	if s.Pager == "" {
		s.Pager = d.Pager
	}
	if s.PageLink == "" {
		s.PageLink = d.PageLink
	}
	if s.CurrentPage == "" {
		s.CurrentPage = d.CurrentPage
	}
	return s
}

// PageLinkFor returns the selector of the pager control for page n.
func (s Selectors) PageLinkFor(n int) string {
	return fmt.Sprintf(s.PageLink, n)
}

// CurrentPageFor returns the selector matching the pager entry for page n once
// it has become the current page.
func (s Selectors) CurrentPageFor(n int) string {
	return s.CurrentPage + fmt.Sprintf(`[aria-label="Page %d"]`, n)
}

// Timeouts bound each kind of wait performed by a Session.
type Timeouts struct {
	Navigation time.Duration
	Results    time.Duration
	Pagination time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Navigation <= 0 {
		t.Navigation = 30 * time.Second
	}
	if t.Results <= 0 {
		t.Results = 30 * time.Second
	}
	if t.Pagination <= 0 {
		t.Pagination = 60 * time.Second
	}
	return t
}
