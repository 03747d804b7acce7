package search

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
)

// Config controls every Session a Runner opens.
type Config struct {
	Selectors       Selectors
	Timeouts        Timeouts
	SnapshotResults bool
	// BlockedDomains drops result URLs on matching hosts before they are
	// collected.
	BlockedDomains []string
}

// Request is one query against one surface.
type Request struct {
	SurfaceURL string
	Query      string
	// Dir receives snapshots; it is created if missing.
	Dir        string
	PageBudget int
	UseProxy   bool
}

// Result is the finalized outcome of one query.
type Result struct {
	URLs  []string
	Pages int
	State State
	Err   error
}

// Runner is the pagination controller: it opens a page, runs the session state
// machine until the budget or the pager runs out, and closes the page.
type Runner struct {
	cfg       Config
	blocklist *Blocklist
	logger    *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, blocklist: NewBlocklist(cfg.BlockedDomains), logger: logger}
}

// Run executes req. Failures are reported in the Result, never as a panic or
// an aborted caller: a failed initial search yields no URLs and no pagination.
func (r *Runner) Run(ctx context.Context, b browser.Browser, req Request) Result {
	logger := r.logger.With(zap.String("query_dir", req.Dir), zap.Bool("proxy", req.UseProxy))
	budget := req.PageBudget
	if budget < 1 {
		budget = 1
	}
	if err := ensureDir(req.Dir); err != nil {
		return Result{State: StateFailed, Err: err}
	}

	page, err := b.NewPage(ctx, browser.PageOptions{UseProxy: req.UseProxy, Stealth: true})
	if err != nil {
		logger.Error("open search page failed", zap.Error(err))
		return Result{State: StateFailed, Err: err}
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Debug("close search page", zap.Error(cerr))
		}
	}()

	session := newSession(page, r.cfg, req.Dir, logger)
	session.blocklist = r.blocklist
	logger.Info("searching", zap.String("query", req.Query), zap.Int("page_budget", budget))
	if err := session.Search(ctx, req.SurfaceURL, req.Query); err != nil {
		return Result{URLs: []string{}, State: StateFailed, Err: err}
	}

	var runErr error
	for {
		session.Extract(ctx)
		if ctx.Err() != nil {
			session.state = StateFailed
			runErr = ctx.Err()
			break
		}
		if session.PageNumber() >= budget || !session.CanPaginate(ctx) {
			break
		}
		if err := session.Next(ctx); err != nil {
			if !errors.Is(err, errNoMorePages) {
				logger.Warn("pagination stopped", zap.Int("page", session.PageNumber()), zap.Error(err))
				runErr = err
			}
			break
		}
	}

	urls := session.Finish()
	logger.Info("search complete",
		zap.String("state", string(session.State())),
		zap.Int("pages", session.PageNumber()),
		zap.Int("urls", len(urls)),
	)
	return Result{URLs: urls, Pages: session.PageNumber(), State: session.State(), Err: runErr}
}
