// Package render turns the URLs of a manifest into fixed-layout documents and
// their text siblings.
package render

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
	"github.com/JakeFAU/due-diligence-crawler/internal/manifest"
	"github.com/JakeFAU/due-diligence-crawler/internal/metrics"
	"github.com/JakeFAU/due-diligence-crawler/internal/textract"
)

// DocumentExt is the extension of every artifact document.
const DocumentExt = ".pdf"

// Downloader fetches a URL straight to a file.
type Downloader interface {
	Download(ctx context.Context, rawURL, dest string) (int64, error)
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// GatewayConfig routes renders through a text-only proxy page: the target URL
// is typed into InputSelector and the export waits for ReadySelector.
type GatewayConfig struct {
	URL           string `mapstructure:"url"`
	InputSelector string `mapstructure:"input_selector"`
	ReadySelector string `mapstructure:"ready_selector"`
}

// Config controls the renderer.
type Config struct {
	NavigationTimeout time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	Workers           int
	DocumentSuffixes  []string
	Gateway           GatewayConfig
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 90 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if len(c.DocumentSuffixes) == 0 {
		c.DocumentSuffixes = []string{".pdf"}
	}
	if c.Gateway.URL != "" {
		if c.Gateway.InputSelector == "" {
			c.Gateway.InputSelector = `input[name="in"]`
		}
		if c.Gateway.ReadySelector == "" {
			c.Gateway.ReadySelector = `div[textise="block"]`
		}
	}
	return c
}

// Scope names where one manifest's artifacts go.
type Scope struct {
	Dir      string
	Category string
	UseProxy bool
}

// Outcome is the result of rendering one manifest entry.
type Outcome struct {
	Ordinal  int
	URL      string
	Path     string
	Method   string
	Attempts int
	Rendered bool
	Err      error
}

// Render methods.
const (
	MethodDownload = "download"
	MethodBrowser  = "browser"
)

// Renderer renders manifests. It is safe for concurrent use.
type Renderer struct {
	cfg        Config
	downloader Downloader
	extractor  textract.Extractor
	limiter    Limiter
	retry      *RetryPolicy
	logger     *zap.Logger
}

// New builds a Renderer. limiter may be nil.
func New(cfg Config, downloader Downloader, extractor textract.Extractor, limiter Limiter, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Renderer{
		cfg:        cfg,
		downloader: downloader,
		extractor:  extractor,
		limiter:    limiter,
		retry:      NewRetryPolicy(cfg.MaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		logger:     logger,
	}
}

// IsDocumentURL reports whether the path of rawURL ends in one of the
// configured document suffixes, ignoring case.
func (r *Renderer) IsDocumentURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, suffix := range r.cfg.DocumentSuffixes {
		if strings.HasSuffix(p, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// RenderAll processes every manifest entry and records each outcome in m. A
// failure on one URL never stops the others. Outcomes come back in ordinal order.
func (r *Renderer) RenderAll(ctx context.Context, b browser.Browser, m *manifest.Manifest, scope Scope) []Outcome {
	entries := m.Entries()
	outcomes := make([]Outcome, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, entry := range entries {
		g.Go(func() error {
			out := r.renderOne(gctx, b, entry, scope)
			if err := m.MarkOutcome(entry.URL, out.Rendered); err != nil {
				r.logger.Error("record render outcome", zap.Error(err))
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *Renderer) renderOne(ctx context.Context, b browser.Browser, entry manifest.Entry, scope Scope) Outcome {
	dest := filepath.Join(scope.Dir, fmt.Sprintf("%d%s", entry.Ordinal, DocumentExt))
	out := Outcome{Ordinal: entry.Ordinal, URL: entry.URL, Path: dest, Method: MethodBrowser}
	if r.IsDocumentURL(entry.URL) {
		out.Method = MethodDownload
	}
	logger := r.logger.With(
		zap.String("category", scope.Category),
		zap.Int("ordinal", entry.Ordinal),
		zap.String("url", entry.URL),
		zap.String("method", out.Method),
	)

	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		out.Err = r.attempt(ctx, b, entry.URL, dest, out.Method, scope.UseProxy)
		if out.Err == nil || ctx.Err() != nil || !r.retry.ShouldRetry(out.Err, attempt) {
			break
		}
		wait := r.retry.Backoff(attempt)
		logger.Debug("render attempt failed; retrying", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(out.Err))
		if err := sleep(ctx, wait); err != nil {
			break
		}
	}

	if out.Err != nil {
		outcome := "error"
		if browser.IsTimeout(out.Err) {
			outcome = "timeout"
		}
		logger.Warn("render failed", zap.Int("attempts", out.Attempts), zap.Error(out.Err))
		metrics.ObserveRender(scope.Category, outcome)
		return out
	}

	out.Rendered = true
	metrics.ObserveRender(scope.Category, "success")
	if r.extractor != nil {
		if err := r.extractor.Extract(dest, textract.SiblingPath(dest)); err != nil {
			logger.Warn("text extraction failed", zap.Error(err))
		}
	}
	logger.Debug("rendered", zap.Int("attempts", out.Attempts))
	return out
}

func (r *Renderer) attempt(ctx context.Context, b browser.Browser, rawURL, dest, method string, useProxy bool) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, rawURL); err != nil {
			return err
		}
	}
	if method == MethodDownload {
		n, err := r.downloader.Download(ctx, rawURL, dest)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		metrics.ObserveDownload(rawURL, n)
		return nil
	}
	return r.renderInBrowser(ctx, b, rawURL, dest, useProxy)
}

func (r *Renderer) renderInBrowser(ctx context.Context, b browser.Browser, rawURL, dest string, useProxy bool) error {
	page, err := b.NewPage(ctx, browser.PageOptions{UseProxy: useProxy, Stealth: true})
	if err != nil {
		return fmt.Errorf("open render page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.logger.Debug("close render page", zap.Error(cerr))
		}
	}()

	timeout := r.cfg.NavigationTimeout
	if gw := r.cfg.Gateway; gw.URL != "" {
		if err := page.Navigate(ctx, gw.URL, timeout); err != nil {
			return fmt.Errorf("open gateway: %w", err)
		}
		if err := page.Type(ctx, gw.InputSelector, rawURL); err != nil {
			return fmt.Errorf("gateway input: %w", err)
		}
		if err := page.Press(ctx, browser.KeyEnter); err != nil {
			return fmt.Errorf("gateway submit: %w", err)
		}
		if err := page.WaitVisible(ctx, gw.ReadySelector, timeout); err != nil {
			return fmt.Errorf("gateway render: %w", err)
		}
	} else if err := page.Navigate(ctx, rawURL, timeout); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	if err := page.PrintPDF(ctx, dest); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
