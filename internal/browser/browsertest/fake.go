// Package browsertest provides an in-memory browser.Browser that simulates a
// programmable search surface and arbitrary third-party pages.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
	"github.com/JakeFAU/due-diligence-crawler/internal/search"
	"github.com/JakeFAU/due-diligence-crawler/internal/textract/pdftest"
)

// Surface scripts the results a search surface returns per query.
type Surface struct {
	results  map[string][][]string
	timeouts map[string]bool
}

// Set registers the result pages for query; each page lists anchor hrefs.
func (s *Surface) Set(query string, pages ...[]string) *Surface {
	s.results[query] = pages
	return s
}

// TimeoutOn makes the results marker never appear for query.
func (s *Surface) TimeoutOn(query string) *Surface {
	s.timeouts[query] = true
	return s
}

type failRule struct {
	err       error
	remaining int
	always    bool
}

// Fake is a scriptable browser. Unknown queries on a known surface return a
// single empty results page.
type Fake struct {
	mu        sync.Mutex
	selectors search.Selectors
	surfaces  map[string]*Surface
	failures  map[string]*failRule
	stall     bool

	navigations []string
	queries     []string
	printed     []string
	opened      int
	proxied     int
	openPages   int
	closed      bool
}

// New returns a Fake using search.DefaultSelectors.
func New() *Fake {
	return &Fake{
		selectors: search.DefaultSelectors(),
		surfaces:  make(map[string]*Surface),
		failures:  make(map[string]*failRule),
	}
}

// Surface returns (creating if needed) the surface served at url.
func (f *Fake) Surface(url string) *Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.surfaces[url]
	if !ok {
		s = &Surface{results: make(map[string][][]string), timeouts: make(map[string]bool)}
		f.surfaces[url] = s
	}
	return s
}

// FailNavigation makes Navigate(url) return err. times <= 0 fails forever.
func (f *Fake) FailNavigation(url string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = &failRule{err: err, remaining: times, always: times <= 0}
}

// StallTransitions makes every pager click land without the current-page
// marker ever confirming the move.
func (f *Fake) StallTransitions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall = true
}

func (f *Fake) stalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stall
}

// Timeout is a convenience error matching browser.ErrTimeout.
func Timeout(op string) error {
	return fmt.Errorf("%s: %w", op, browser.ErrTimeout)
}

// Factory returns a browser.Factory that always hands out f.
func (f *Fake) Factory() browser.Factory {
	return func() (browser.Browser, error) {
		f.mu.Lock()
		f.closed = false
		f.mu.Unlock()
		return f, nil
	}
}

// NewPage implements browser.Browser.
func (f *Fake) NewPage(_ context.Context, opts browser.PageOptions) (browser.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, browser.ErrClosed
	}
	f.opened++
	f.openPages++
	if opts.UseProxy {
		f.proxied++
	}
	return &fakePage{browser: f, currentPage: -1}, nil
}

// Close implements browser.Browser.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called since the last Factory call.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Navigations lists every URL passed to Navigate.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Queries lists every query submitted to a surface.
func (f *Fake) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// Printed lists every PDF export path.
func (f *Fake) Printed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.printed...)
}

// PageCounts returns pages opened, pages opened through the proxy, and pages
// still open.
func (f *Fake) PageCounts() (opened, proxied, open int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.proxied, f.openPages
}

type fakePage struct {
	browser     *Fake
	url         string
	surface     *Surface
	typed       string
	results     [][]string
	searched    bool
	currentPage int
	closed      bool
}

func (p *fakePage) check() error {
	if p.closed {
		return browser.ErrClosed
	}
	return nil
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	if err := p.check(); err != nil {
		return err
	}
	f := p.browser
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	if rule, ok := f.failures[url]; ok && (rule.always || rule.remaining > 0) {
		if !rule.always {
			rule.remaining--
		}
		return rule.err
	}
	p.url = url
	p.surface = f.surfaces[url]
	p.typed = ""
	p.results = nil
	p.searched = false
	p.currentPage = -1
	return nil
}

func (p *fakePage) Type(_ context.Context, selector, text string) error {
	if err := p.check(); err != nil {
		return err
	}
	if p.url == "" {
		return errors.New("type before navigate")
	}
	if selector == p.browser.selectors.QueryInput {
		p.typed = text
	}
	return nil
}

func (p *fakePage) Press(_ context.Context, key string) error {
	if err := p.check(); err != nil {
		return err
	}
	if key != browser.KeyEnter || p.surface == nil {
		return nil
	}
	f := p.browser
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, p.typed)
	p.results = p.surface.results[p.typed]
	if len(p.results) == 0 {
		p.results = [][]string{{}}
	}
	p.searched = true
	p.currentPage = 0
	return nil
}

func (p *fakePage) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	if err := p.check(); err != nil {
		return err
	}
	sel := p.browser.selectors
	switch {
	case selector == sel.ResultsMarker:
		if p.surface == nil || !p.searched || p.surface.timeouts[p.typed] {
			return Timeout("wait results")
		}
		return nil
	case p.searched:
		for n := 1; n <= len(p.results); n++ {
			if selector == sel.PageLinkFor(n) {
				return nil
			}
			if selector == sel.CurrentPageFor(n) {
				if p.currentPage+1 == n {
					return nil
				}
				return Timeout("wait current page")
			}
		}
		return Timeout("wait " + selector)
	case p.url != "":
		return nil
	}
	return Timeout("wait " + selector)
}

func (p *fakePage) WaitNotPresent(_ context.Context, selector string, _ time.Duration) error {
	if err := p.check(); err != nil {
		return err
	}
	if !p.searched {
		return nil
	}
	if selector == p.browser.selectors.CurrentPageFor(p.currentPage+1) {
		return Timeout("wait not present")
	}
	if p.browser.stalled() {
		for n := 1; n <= len(p.results); n++ {
			if selector == p.browser.selectors.CurrentPageFor(n) {
				return Timeout("wait not present")
			}
		}
	}
	return nil
}

func (p *fakePage) Exists(_ context.Context, selector string) (bool, error) {
	if err := p.check(); err != nil {
		return false, err
	}
	if selector == p.browser.selectors.Pager {
		return p.searched && len(p.results) > 1, nil
	}
	return false, nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	if err := p.check(); err != nil {
		return err
	}
	for n := 1; n <= len(p.results); n++ {
		if selector == p.browser.selectors.PageLinkFor(n) {
			p.currentPage = n - 1
			return nil
		}
	}
	return fmt.Errorf("click %s: node not found", selector)
}

func (p *fakePage) HTML(_ context.Context) (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("<html><body>")
	if p.searched {
		b.WriteString(`<div id="resInfo-0">results</div>`)
		for _, href := range p.results[p.currentPage] {
			fmt.Fprintf(&b, `<div class="gsc-webResult"><a class="gs-title" href="%s">%s</a></div>`,
				html.EscapeString(href), html.EscapeString(href))
		}
		if len(p.results) > 1 {
			b.WriteString(`<div class="gsc-cursor">`)
			for n := 1; n <= len(p.results); n++ {
				class := "gsc-cursor-page"
				if n == p.currentPage+1 {
					class += " gsc-cursor-current-page"
				}
				fmt.Fprintf(&b, `<div class="%s" aria-label="Page %d">%d</div>`, class, n, n)
			}
			b.WriteString(`</div>`)
		}
	} else {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(p.url))
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (p *fakePage) PrintPDF(_ context.Context, path string) error {
	if err := p.check(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create pdf dir: %w", err)
	}
	if err := os.WriteFile(path, pdftest.Build("rendered "+p.url), 0o600); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	f := p.browser
	f.mu.Lock()
	f.printed = append(f.printed, path)
	f.mu.Unlock()
	return nil
}

func (p *fakePage) SetRequestFilter(_ context.Context, _ browser.RequestFilter) error {
	return p.check()
}

func (p *fakePage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	f := p.browser
	f.mu.Lock()
	f.openPages--
	f.mu.Unlock()
	return nil
}
