package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
	"github.com/JakeFAU/due-diligence-crawler/internal/manifest"
	"github.com/JakeFAU/due-diligence-crawler/internal/metrics"
	"github.com/JakeFAU/due-diligence-crawler/internal/render"
	"github.com/JakeFAU/due-diligence-crawler/internal/search"
)

// Searcher runs one query to completion.
type Searcher interface {
	Run(ctx context.Context, b browser.Browser, req search.Request) search.Result
}

// Renderer renders every entry of a manifest.
type Renderer interface {
	RenderAll(ctx context.Context, b browser.Browser, m *manifest.Manifest, scope render.Scope) []render.Outcome
}

// Recorder persists a finished scope for audit.
type Recorder interface {
	RecordScope(ctx context.Context, jobID string, scope ScopeReport, outcomes []render.Outcome) error
}

// ScopeReport summarizes one query scope: its search and its manifest.
type ScopeReport struct {
	Category    string       `json:"category"`
	Dir         string       `json:"dir"`
	Label       string       `json:"label"`
	State       search.State `json:"state"`
	Pages       int          `json:"pages"`
	Total       int          `json:"total"`
	Rendered    int          `json:"rendered"`
	SuccessRate float64      `json:"success_rate"`
}

// Runner executes variants: each planned query is searched, its URLs are
// written to a manifest, and the manifest is rendered, one query at a time.
type Runner struct {
	workRoot string
	searcher Searcher
	renderer Renderer
	recorder Recorder
	logger   *zap.Logger
}

// NewRunner builds a Runner writing under workRoot. recorder may be nil.
func NewRunner(workRoot string, searcher Searcher, renderer Renderer, recorder Recorder, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		workRoot: workRoot,
		searcher: searcher,
		renderer: renderer,
		recorder: recorder,
		logger:   logger,
	}
}

// Crawl runs every query v plans for t. A failed query is reported in its
// ScopeReport and does not stop the remaining ones. ErrSurfaceUnset and
// ErrNothingToSearch are returned so callers can skip the variant.
func (r *Runner) Crawl(ctx context.Context, b browser.Browser, v Variant, t Target) ([]ScopeReport, error) {
	logger := r.logger.With(zap.String("job_id", t.JobID), zap.String("category", v.Category))
	queries, err := v.Plan(t)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", v.Tag, err)
	}
	if len(queries) == 0 {
		logger.Info("nothing to search; skipping variant")
		return nil, fmt.Errorf("crawl %s: %w", v.Tag, ErrNothingToSearch)
	}

	reports := make([]ScopeReport, 0, len(queries))
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return reports, fmt.Errorf("crawl %s: %w", v.Tag, err)
		}
		logger.Info("performing search", zap.String("search", q.Label), zap.String("query_dir", q.Dir))
		reports = append(reports, r.runQuery(ctx, b, v, t, q, logger))
	}
	return reports, nil
}

func (r *Runner) runQuery(ctx context.Context, b browser.Browser, v Variant, t Target, q Query, logger *zap.Logger) ScopeReport {
	dir := filepath.Join(r.workRoot, filepath.FromSlash(q.Dir))
	res := r.searcher.Run(ctx, b, search.Request{
		SurfaceURL: q.Surface,
		Query:      q.Text,
		Dir:        dir,
		PageBudget: t.PageBudget,
		UseProxy:   q.UseProxy,
	})
	metrics.ObserveQuery(v.Category, string(res.State))
	if res.Err != nil {
		logger.Warn("search did not complete",
			zap.String("query_dir", q.Dir),
			zap.String("state", string(res.State)),
			zap.Error(res.Err),
		)
	}

	m := manifest.FromURLs(res.URLs)
	if err := m.Save(dir); err != nil {
		logger.Error("write manifest", zap.String("query_dir", q.Dir), zap.Error(err))
	}
	outcomes := r.renderer.RenderAll(ctx, b, m, render.Scope{Dir: dir, Category: v.Category, UseProxy: q.UseProxy})

	counts := m.Counts()
	report := ScopeReport{
		Category:    v.Category,
		Dir:         q.Dir,
		Label:       q.Label,
		State:       res.State,
		Pages:       res.Pages,
		Total:       counts.Total,
		Rendered:    counts.Rendered,
		SuccessRate: counts.Rate(),
	}
	metrics.ObserveSuccessRate(v.Category, report.SuccessRate)
	logger.Info("scope complete",
		zap.String("query_dir", q.Dir),
		zap.Int("urls", report.Total),
		zap.Int("rendered", report.Rendered),
		zap.Float64("success_rate", report.SuccessRate),
	)

	if r.recorder != nil {
		if err := r.recorder.RecordScope(ctx, t.JobID, report, outcomes); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("audit record failed", zap.String("query_dir", q.Dir), zap.Error(err))
		}
	}
	return report
}
