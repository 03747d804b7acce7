package search

import (
	"net/url"
	"slices"
	"strings"
)

// Blocklist rejects result URLs by host. Patterns are exact hosts or suffix
// wildcards written as "*.example.com" or ".example.com". A nil Blocklist
// blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist compiles patterns. It returns nil when no usable pattern is
// given.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(b.suffixes, suffix) {
		return
	}
	b.suffixes = append(b.suffixes, suffix)
}

// BlocksHost reports whether host matches a pattern.
func (b *Blocklist) BlocksHost(host string) bool {
	if b == nil {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Filter returns the urls whose host is not blocked, preserving order.
func (b *Blocklist) Filter(urls []string) []string {
	if b == nil {
		return urls
	}
	kept := urls[:0:0]
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err == nil && b.BlocksHost(u.Hostname()) {
			continue
		}
		kept = append(kept, raw)
	}
	return kept
}
