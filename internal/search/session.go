// Package search drives one query against one search surface through the
// headless-browser capability and collects the result URLs of every page
// within the page budget.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
)

// State is a step of the per-query state machine.
type State string

// Session states. Failed is absorbing.
const (
	StateInit       State = "init"
	StateSearched   State = "searched"
	StatePaginating State = "paginating"
	StateExtracted  State = "extracted"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Snapshot file names written into the query directory.
const (
	ErrorSnapshotName   = "search_error.pdf"
	resultsSnapshotName = "results_%d.pdf"
)

var errNoMorePages = errors.New("no further result pages")

// Session holds the page handle and counters for one query. It is not safe for
// concurrent use.
type Session struct {
	page       browser.Page
	selectors  Selectors
	timeouts   Timeouts
	dir        string
	snapshots  bool
	logger     *zap.Logger
	state      State
	pageNumber int
	candidates *CandidateSet
	blocklist  *Blocklist
}

func newSession(page browser.Page, cfg Config, dir string, logger *zap.Logger) *Session {
	return &Session{
		page:       page,
		selectors:  cfg.Selectors.withDefaults(),
		timeouts:   cfg.Timeouts.withDefaults(),
		dir:        dir,
		snapshots:  cfg.SnapshotResults,
		logger:     logger,
		state:      StateInit,
		candidates: NewCandidateSet(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// PageNumber returns the 1-based number of the page currently displayed.
func (s *Session) PageNumber() int {
	return s.pageNumber
}

// Search submits query on the surface and waits for the results marker.
func (s *Session) Search(ctx context.Context, surfaceURL, query string) error {
	if s.state != StateInit {
		return fmt.Errorf("search from state %s", s.state)
	}
	if err := s.submit(ctx, surfaceURL, query); err != nil {
		if browser.IsTimeout(err) {
			s.logger.Warn("search timed out", zap.Error(err))
		} else {
			s.logger.Error("search failed", zap.Error(err))
		}
		s.snapshot(ctx, ErrorSnapshotName)
		s.state = StateFailed
		return err
	}
	s.pageNumber = 1
	s.state = StateSearched
	if s.snapshots {
		s.snapshot(ctx, fmt.Sprintf(resultsSnapshotName, s.pageNumber))
	}
	return nil
}

func (s *Session) submit(ctx context.Context, surfaceURL, query string) error {
	if err := s.page.SetRequestFilter(ctx, browser.EssentialOnly); err != nil {
		return fmt.Errorf("install request filter: %w", err)
	}
	if err := s.page.Navigate(ctx, surfaceURL, s.timeouts.Navigation); err != nil {
		return fmt.Errorf("open search surface: %w", err)
	}
	if err := s.page.Type(ctx, s.selectors.QueryInput, query); err != nil {
		return fmt.Errorf("type query: %w", err)
	}
	if err := s.page.Press(ctx, browser.KeyEnter); err != nil {
		return fmt.Errorf("submit query: %w", err)
	}
	if err := s.page.WaitVisible(ctx, s.selectors.ResultsMarker, s.timeouts.Results); err != nil {
		return fmt.Errorf("wait for results: %w", err)
	}
	return nil
}

// Extract adds the result anchors of the current page to the candidate set and
// returns how many were new. Extraction problems are logged, never returned.
func (s *Session) Extract(ctx context.Context) int {
	if s.state != StateSearched && s.state != StatePaginating {
		return 0
	}
	s.state = StateExtracted
	html, err := s.page.HTML(ctx)
	if err != nil {
		s.logger.Warn("read results page failed", zap.Int("page", s.pageNumber), zap.Error(err))
		return 0
	}
	urls, err := ExtractURLs(html, s.selectors.ResultAnchor)
	if err != nil {
		s.logger.Warn("extract result urls failed", zap.Int("page", s.pageNumber), zap.Error(err))
		return 0
	}
	added := s.candidates.AddAll(s.blocklist.Filter(urls))
	s.logger.Debug("extracted result urls",
		zap.Int("page", s.pageNumber),
		zap.Int("found", len(urls)),
		zap.Int("new", added),
		zap.Int("total", s.candidates.Len()),
	)
	return added
}

// CanPaginate probes for the pager control.
func (s *Session) CanPaginate(ctx context.Context) bool {
	ok, err := s.page.Exists(ctx, s.selectors.Pager)
	if err != nil {
		s.logger.Warn("pager probe failed", zap.Error(err))
		return false
	}
	return ok
}

// Next clicks through to the following result page. A click that does not
// produce a confirmed page transition within the pagination timeout is treated
// as successful.
func (s *Session) Next(ctx context.Context) error {
	if s.state != StateExtracted {
		return fmt.Errorf("paginate from state %s", s.state)
	}
	prev, next := s.pageNumber, s.pageNumber+1
	link := s.selectors.PageLinkFor(next)

	if err := s.page.WaitVisible(ctx, link, s.timeouts.Pagination); err != nil {
		if browser.IsTimeout(err) {
			s.state = StateDone
			return errNoMorePages
		}
		s.state = StateFailed
		return fmt.Errorf("wait for page %d link: %w", next, err)
	}
	if err := s.page.Click(ctx, link); err != nil {
		s.state = StateFailed
		return fmt.Errorf("click page %d: %w", next, err)
	}
	if err := s.confirmTransition(ctx, prev, next); err != nil {
		if !browser.IsTimeout(err) {
			s.state = StateFailed
			return fmt.Errorf("confirm page %d: %w", next, err)
		}
		s.logger.Info("page transition not confirmed; proceeding", zap.Int("page", next))
	}
	s.pageNumber = next
	s.state = StatePaginating
	if s.snapshots {
		s.snapshot(ctx, fmt.Sprintf(resultsSnapshotName, s.pageNumber))
	}
	return nil
}

func (s *Session) confirmTransition(ctx context.Context, prev, next int) error {
	if err := s.page.WaitNotPresent(ctx, s.selectors.CurrentPageFor(prev), s.timeouts.Pagination); err != nil {
		return err
	}
	return s.page.WaitVisible(ctx, s.selectors.CurrentPageFor(next), s.timeouts.Pagination)
}

// Finish marks the session done unless it already failed and returns the
// collected URLs.
func (s *Session) Finish() []string {
	if s.state != StateFailed {
		s.state = StateDone
	}
	return s.candidates.URLs()
}

func (s *Session) snapshot(ctx context.Context, name string) {
	target := filepath.Join(s.dir, name)
	if err := s.page.PrintPDF(ctx, target); err != nil {
		s.logger.Debug("snapshot failed", zap.String("path", target), zap.Error(err))
	}
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create query dir %s: %w", dir, err)
	}
	return nil
}
