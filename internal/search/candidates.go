package search

import "strings"

// CandidateSet accumulates unique result URLs across every page of one query.
// It keeps first-seen order so manifest ordinals are reproducible.
type CandidateSet struct {
	seen  map[string]struct{}
	order []string
}

// NewCandidateSet returns an empty set.
func NewCandidateSet() *CandidateSet {
	return &CandidateSet{seen: make(map[string]struct{})}
}

// Add inserts url and reports whether it was new. Blank strings are ignored.
func (s *CandidateSet) Add(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}
	if _, ok := s.seen[url]; ok {
		return false
	}
	s.seen[url] = struct{}{}
	s.order = append(s.order, url)
	return true
}

// AddAll inserts every url and returns how many were new.
func (s *CandidateSet) AddAll(urls []string) int {
	added := 0
	for _, u := range urls {
		if s.Add(u) {
			added++
		}
	}
	return added
}

// Contains reports membership.
func (s *CandidateSet) Contains(url string) bool {
	_, ok := s.seen[url]
	return ok
}

// Len returns the number of unique URLs.
func (s *CandidateSet) Len() int {
	return len(s.order)
}

// URLs returns a copy of the members in first-seen order.
func (s *CandidateSet) URLs() []string {
	return append([]string(nil), s.order...)
}
