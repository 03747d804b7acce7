// Package orchestrator runs one job: it resolves the requested crawler
// variants, runs them one at a time, uploads the job's artifact tree once, and
// reports the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
	"github.com/JakeFAU/due-diligence-crawler/internal/clock/system"
	"github.com/JakeFAU/due-diligence-crawler/internal/crawler"
	"github.com/JakeFAU/due-diligence-crawler/internal/job"
	"github.com/JakeFAU/due-diligence-crawler/internal/metrics"
)

// ErrNothingRan is returned when no requested variant could run.
var ErrNothingRan = errors.New("no crawler variant ran")

// Job statuses reported after processing.
const (
	StatusCompleted    = "completed"
	StatusUploadFailed = "upload_failed"
	StatusFailed       = "failed"
)

// VariantRunner runs one variant for one target.
type VariantRunner interface {
	Crawl(ctx context.Context, b browser.Browser, v crawler.Variant, t crawler.Target) ([]crawler.ScopeReport, error)
}

// Uploader pushes the local tree of jobID to bucket.
type Uploader interface {
	Upload(ctx context.Context, bucket, jobID string) error
}

// Publisher announces finished jobs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Report describes a processed job.
type Report struct {
	JobID           string                `json:"job_id"`
	Subject         string                `json:"subject"`
	Status          string                `json:"status"`
	VariantsRun     []string              `json:"variants_run"`
	VariantsSkipped []string              `json:"variants_skipped"`
	VariantsFailed  []string              `json:"variants_failed"`
	Scopes          []crawler.ScopeReport `json:"scopes"`
	UploadError     string                `json:"upload_error,omitempty"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      time.Time             `json:"finished_at"`
}

// Clock stamps reports.
type Clock interface {
	Now() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// Config holds orchestrator settings.
type Config struct {
	WorkRoot    string
	Bucket      string
	ReportTopic string
	KeepLocal   bool
}

// Orchestrator processes jobs. It holds no per-job state and may run several
// jobs concurrently.
type Orchestrator struct {
	cfg       Config
	registry  *crawler.Registry
	runner    VariantRunner
	browsers  browser.Factory
	uploader  Uploader
	publisher Publisher
	logger    *zap.Logger
	clock     Clock
}

// New builds an Orchestrator. publisher may be nil.
func New(
	cfg Config,
	registry *crawler.Registry,
	runner VariantRunner,
	browsers browser.Factory,
	uploader Uploader,
	publisher Publisher,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		runner:    runner,
		browsers:  browsers,
		uploader:  uploader,
		publisher: publisher,
		logger:    logger,
		clock:     system.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs j to completion. Failures inside a variant are contained; the
// returned error reports only job-level failure (nothing ran, or the upload
// failed) and never means the remaining work was skipped.
func (o *Orchestrator) Process(ctx context.Context, j job.Job) (Report, error) {
	logger := o.logger.With(zap.String("job_id", j.ID), zap.String("subject", j.Subject))
	report := Report{
		JobID:           j.ID,
		Subject:         j.Subject,
		VariantsRun:     []string{},
		VariantsSkipped: []string{},
		VariantsFailed:  []string{},
		Scopes:          []crawler.ScopeReport{},
		StartedAt:       o.clock.Now(),
	}
	logger.Info("job started", zap.Strings("variants", j.Variants), zap.Int("pages", j.Pages))

	b, err := o.browsers()
	if err != nil {
		logger.Error("open browser", zap.Error(err))
	} else {
		defer func() {
			if cerr := b.Close(); cerr != nil {
				logger.Warn("close browser", zap.Error(cerr))
			}
		}()
	}

	target := crawler.Target{
		JobID:      j.ID,
		Subject:    j.Subject,
		Directors:  j.Directors,
		SiteURL:    j.SiteURL,
		PageBudget: j.Pages,
	}
	for _, tag := range j.Variants {
		v, ok := o.registry.Lookup(tag)
		if !ok {
			logger.Warn("unknown crawler variant; skipping", zap.String("variant", tag))
			report.VariantsSkipped = append(report.VariantsSkipped, tag)
			continue
		}
		if v.Surface == "" {
			logger.Warn("no search surface configured; skipping", zap.String("variant", string(v.Tag)))
			report.VariantsSkipped = append(report.VariantsSkipped, string(v.Tag))
			continue
		}
		if b == nil {
			report.VariantsFailed = append(report.VariantsFailed, string(v.Tag))
			continue
		}

		scopes, err := o.runVariant(ctx, b, v, target, logger)
		report.Scopes = append(report.Scopes, scopes...)
		switch {
		case errors.Is(err, crawler.ErrSurfaceUnset), errors.Is(err, crawler.ErrNothingToSearch):
			logger.Warn("crawler variant had nothing to run; skipping", zap.String("variant", string(v.Tag)), zap.Error(err))
			report.VariantsSkipped = append(report.VariantsSkipped, string(v.Tag))
		case err != nil:
			logger.Error("crawler variant failed", zap.String("variant", string(v.Tag)), zap.Error(err))
			report.VariantsFailed = append(report.VariantsFailed, string(v.Tag))
		default:
			report.VariantsRun = append(report.VariantsRun, string(v.Tag))
		}
	}

	jobErr := o.finish(ctx, &report, logger)
	report.FinishedAt = o.clock.Now()
	metrics.ObserveJob(report.Status)
	o.publish(ctx, report, logger)
	logger.Info("job finished",
		zap.String("status", report.Status),
		zap.Int("scopes", len(report.Scopes)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, jobErr
}

// runVariant isolates one variant: a panic becomes an error for that variant
// only.
func (o *Orchestrator) runVariant(
	ctx context.Context,
	b browser.Browser,
	v crawler.Variant,
	t crawler.Target,
	logger *zap.Logger,
) (scopes []crawler.ScopeReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("crawler variant panicked",
				zap.String("variant", string(v.Tag)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("variant %s panicked: %v", v.Tag, r)
		}
	}()
	start := o.clock.Now()
	logger.Info("running crawler variant", zap.String("variant", string(v.Tag)))
	scopes, err = o.runner.Crawl(ctx, b, v, t)
	logger.Info("crawler variant done",
		zap.String("variant", string(v.Tag)),
		zap.Int("scopes", len(scopes)),
		zap.Duration("elapsed", o.clock.Now().Sub(start)),
	)
	return scopes, err
}

// finish uploads the job tree once, sets the report status, and removes the
// local tree after a successful upload.
func (o *Orchestrator) finish(ctx context.Context, report *Report, logger *zap.Logger) error {
	var jobErr error
	if len(report.VariantsRun) == 0 {
		jobErr = fmt.Errorf("job %s: %w", report.JobID, ErrNothingRan)
		logger.Error("no crawler variant ran", zap.Strings("skipped", report.VariantsSkipped), zap.Strings("failed", report.VariantsFailed))
	}

	uploadErr := o.uploader.Upload(ctx, o.cfg.Bucket, report.JobID)
	switch {
	case uploadErr != nil:
		metrics.ObserveUpload("error")
		report.UploadError = uploadErr.Error()
		logger.Error("upload failed", zap.String("bucket", o.cfg.Bucket), zap.Error(uploadErr))
	default:
		metrics.ObserveUpload("success")
		logger.Info("upload complete", zap.String("bucket", o.cfg.Bucket))
		if !o.cfg.KeepLocal {
			o.cleanup(report.JobID, logger)
		}
	}

	switch {
	case jobErr != nil:
		report.Status = StatusFailed
	case uploadErr != nil:
		report.Status = StatusUploadFailed
		jobErr = fmt.Errorf("upload job %s: %w", report.JobID, uploadErr)
	default:
		report.Status = StatusCompleted
	}
	return jobErr
}

func (o *Orchestrator) cleanup(jobID string, logger *zap.Logger) {
	if o.cfg.WorkRoot == "" {
		return
	}
	if err := os.RemoveAll(filepath.Join(o.cfg.WorkRoot, jobID)); err != nil {
		logger.Warn("remove local artifacts", zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, report Report, logger *zap.Logger) {
	if o.publisher == nil {
		return
	}
	id, err := o.publisher.Publish(ctx, o.cfg.ReportTopic, report)
	if err != nil {
		logger.Warn("publish job report", zap.Error(err))
		return
	}
	logger.Debug("job report published", zap.String("message_id", id))
}
