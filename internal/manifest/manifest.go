// Package manifest tracks the URLs discovered for one query scope, the ordinal
// each one is rendered under, and whether that render succeeded.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the listing written next to a scope's artifacts.
const FileName = "manifest.txt"

// ErrUnknownURL is returned when an outcome is recorded for a URL that was
// never assigned.
var ErrUnknownURL = errors.New("url not in manifest")

// Entry is one manifest row.
type Entry struct {
	Ordinal  int
	URL      string
	Rendered bool
}

// Counts summarizes a manifest.
type Counts struct {
	Total    int
	Rendered int
}

// Manifest is safe for concurrent use.
type Manifest struct {
	mu      sync.Mutex
	index   map[string]int
	entries []Entry
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{index: make(map[string]int)}
}

// FromURLs assigns every url in order.
func FromURLs(urls []string) *Manifest {
	m := New()
	for _, u := range urls {
		m.Assign(u)
	}
	return m
}

// Assign returns the 1-based ordinal for url, allocating the next one on first
// sight. Repeated calls return the original ordinal.
func (m *Manifest) Assign(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[url]; ok {
		return m.entries[i].Ordinal
	}
	ordinal := len(m.entries) + 1
	m.index[url] = len(m.entries)
	m.entries = append(m.entries, Entry{Ordinal: ordinal, URL: url})
	return ordinal
}

// MarkOutcome records whether url rendered. The latest outcome wins.
func (m *Manifest) MarkOutcome(url string, succeeded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[url]
	if !ok {
		return fmt.Errorf("mark %q: %w", url, ErrUnknownURL)
	}
	m.entries[i].Rendered = succeeded
	return nil
}

// Counts returns the total and rendered entry counts.
func (m *Manifest) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Counts{Total: len(m.entries)}
	for _, e := range m.entries {
		if e.Rendered {
			c.Rendered++
		}
	}
	return c
}

// SuccessRate returns 100 × rendered / total, or 0 for an empty manifest.
func (m *Manifest) SuccessRate() float64 {
	return m.Counts().Rate()
}

// Rate returns 100 × Rendered / Total, or 0 when Total is 0.
func (c Counts) Rate() float64 {
	if c.Total == 0 {
		return 0
	}
	return 100 * float64(c.Rendered) / float64(c.Total)
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a copy of the rows in ordinal order.
func (m *Manifest) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// WriteListing writes one "ordinal -> url" line per entry.
func (m *Manifest) WriteListing(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range m.Entries() {
		if _, err := fmt.Fprintf(bw, "%d -> %s\n", e.Ordinal, e.URL); err != nil {
			return fmt.Errorf("write manifest entry %d: %w", e.Ordinal, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}
	return nil
}

// Save writes the listing to dir/manifest.txt.
func (m *Manifest) Save(dir string) (err error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	f, err := os.Create(filepath.Clean(filepath.Join(dir, FileName)))
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close manifest: %w", cerr)
		}
	}()
	return m.WriteListing(f)
}
