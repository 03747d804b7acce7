// Package headless implements browser.Browser with chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
)

// ProxyConfig describes the anonymizing egress path.
type ProxyConfig struct {
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Enabled reports whether a proxy server is configured.
func (p ProxyConfig) Enabled() bool {
	return p.Server != ""
}

// Config controls how Chrome is launched.
type Config struct {
	ExecPath      string        `mapstructure:"exec_path"`
	UserAgent     string        `mapstructure:"user_agent"`
	Headful       bool          `mapstructure:"headful"`
	NoSandbox     bool          `mapstructure:"no_sandbox"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	Proxy         ProxyConfig   `mapstructure:"proxy"`
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	return c
}

// Launcher owns the direct and proxied allocators and produces one Browser per
// job. Allocators are started on first use.
type Launcher struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	allocs    map[bool]context.Context
	cancels   []context.CancelFunc
	proxyWarn sync.Once
}

// NewLauncher builds a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		cfg:    cfg.withDefaults(),
		logger: logger,
		allocs: make(map[bool]context.Context),
	}
}

// Factory returns a browser.Factory backed by this Launcher.
func (l *Launcher) Factory() browser.Factory {
	return func() (browser.Browser, error) {
		return &Browser{launcher: l, tabs: make(map[bool]context.Context)}, nil
	}
}

// Close stops every allocator and any browser still attached to them.
func (l *Launcher) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cancel := range l.cancels {
		cancel()
	}
	l.cancels = nil
	l.allocs = make(map[bool]context.Context)
}

func (l *Launcher) allocator(proxied bool) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ctx, ok := l.allocs[proxied]; ok {
		return ctx
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(proxied)...)
	l.allocs[proxied] = ctx
	l.cancels = append(l.cancels, cancel)
	return ctx
}

func (l *Launcher) allocatorOptions(proxied bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", !l.cfg.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(l.cfg.UserAgent),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if proxied {
		opts = append(opts, chromedp.ProxyServer(l.cfg.Proxy.Server))
	}
	return opts
}

// useProxy resolves a page request against the configured egress. Without a
// proxy server every page goes direct.
func (l *Launcher) useProxy(requested bool) bool {
	if !requested {
		return false
	}
	if !l.cfg.Proxy.Enabled() {
		l.proxyWarn.Do(func() {
			l.logger.Warn("proxy requested but no proxy server configured; using direct egress")
		})
		return false
	}
	return true
}

// Browser is one job's browser. It launches at most one Chrome process per
// egress path, lazily, and opens every page as a tab of that process.
type Browser struct {
	launcher *Launcher

	mu      sync.Mutex
	tabs    map[bool]context.Context
	cancels []context.CancelFunc
	closed  bool
}

// NewPage implements browser.Browser.
func (b *Browser) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	proxied := b.launcher.useProxy(opts.UseProxy)
	parent, err := b.root(proxied)
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(parent)
	// Allocate the target on a context without a deadline so a later timed-out
	// action does not tear the tab down.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	p := &Page{
		ctx:     tabCtx,
		cancel:  cancel,
		cfg:     b.launcher.cfg,
		proxied: proxied,
		logger:  b.launcher.logger,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	if err := p.prepare(ctx, opts.Stealth); err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

func (b *Browser) root(proxied bool) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, browser.ErrClosed
	}
	if ctx, ok := b.tabs[proxied]; ok {
		return ctx, nil
	}
	ctx, cancel := chromedp.NewContext(b.launcher.allocator(proxied))
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	b.tabs[proxied] = ctx
	b.cancels = append(b.cancels, cancel)
	return ctx, nil
}

// Close implements browser.Browser. It is safe to call more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for proxied, ctx := range b.tabs {
		if err := chromedp.Cancel(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("close chrome (proxied=%t): %w", proxied, err))
		}
	}
	for _, cancel := range b.cancels {
		cancel()
	}
	return errors.Join(errs...)
}
