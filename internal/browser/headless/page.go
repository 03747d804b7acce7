package headless

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
)

// Page is one Chrome tab.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     Config
	proxied bool
	logger  *zap.Logger

	mu     sync.RWMutex
	filter browser.RequestFilter
	closed bool
}

func (p *Page) needsAuth() bool {
	return p.proxied && p.cfg.Proxy.Username != ""
}

func (p *Page) prepare(ctx context.Context, stealth bool) error {
	actions := []chromedp.Action{network.Enable()}
	if p.needsAuth() {
		actions = append(actions, p.fetchEnable())
	}
	if stealth {
		actions = append(actions,
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
				return err
			}),
			emulation.SetUserAgentOverride(p.cfg.UserAgent).WithAcceptLanguage("en-US,en;q=0.9"),
		)
	}
	return p.run(ctx, "prepare page", p.cfg.ActionTimeout, actions...)
}

func (p *Page) fetchEnable() chromedp.Action {
	return fetch.Enable().
		WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}).
		WithHandleAuthRequests(p.needsAuth())
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *Page) run(ctx context.Context, op string, timeout time.Duration, actions ...chromedp.Action) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return browser.ErrClosed
	}
	if timeout <= 0 {
		timeout = p.cfg.ActionTimeout
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	return browser.Classify(op, chromedp.Run(runCtx, actions...))
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return p.run(ctx, "navigate "+url, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Type implements browser.Page.
func (p *Page) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, "type into "+selector, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Press implements browser.Page.
func (p *Page) Press(ctx context.Context, key string) error {
	code, ok := keyCode(key)
	if !ok {
		return fmt.Errorf("press: unsupported key %q", key)
	}
	return p.run(ctx, "press "+key, 0, chromedp.KeyEvent(code))
}

func keyCode(key string) (string, bool) {
	switch key {
	case browser.KeyEnter:
		return kb.Enter, true
	default:
		return "", false
	}
}

// WaitVisible implements browser.Page.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, "wait visible "+selector, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// WaitNotPresent implements browser.Page.
func (p *Page) WaitNotPresent(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, "wait not present "+selector, timeout, chromedp.WaitNotPresent(selector, chromedp.ByQuery))
}

// Exists implements browser.Page without waiting for the element.
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, "probe "+selector, 0,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, "click "+selector, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// HTML implements browser.Page.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, "read html", 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// PrintPDF implements browser.Page.
func (p *Page) PrintPDF(ctx context.Context, path string) error {
	var buf []byte
	err := p.run(ctx, "print pdf", 0, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create pdf dir: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("write pdf %s: %w", path, err)
	}
	return nil
}

// SetRequestFilter implements browser.Page. Interception stays enabled for the
// life of the tab.
func (p *Page) SetRequestFilter(ctx context.Context, filter browser.RequestFilter) error {
	p.mu.Lock()
	p.filter = filter
	p.mu.Unlock()
	return p.run(ctx, "enable interception", 0, p.fetchEnable())
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	defer p.cancel()
	if err := page.Close().Do(cdp.WithExecutor(p.ctx, chromedp.FromContext(p.ctx).Target)); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

// onEvent answers paused requests and proxy auth challenges. Replies run in
// their own goroutine because the listener must not block the event loop.
func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go p.answerPaused(e)
	case *fetch.EventAuthRequired:
		go p.answerAuth(e)
	case *runtime.EventExceptionThrown:
		p.logger.Debug("page exception", zap.String("text", e.ExceptionDetails.Text))
	}
}

func (p *Page) executor() context.Context {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return p.ctx
	}
	return cdp.WithExecutor(p.ctx, c.Target)
}

func (p *Page) answerPaused(e *fetch.EventRequestPaused) {
	p.mu.RLock()
	filter := p.filter
	p.mu.RUnlock()

	ctx := p.executor()
	req := browser.Request{URL: e.Request.URL, ResourceType: string(e.ResourceType)}
	if filter != nil && !filter(req) {
		if err := fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ctx); err != nil {
			p.logger.Debug("abort request", zap.String("url", req.URL), zap.Error(err))
		}
		return
	}
	if err := fetch.ContinueRequest(e.RequestID).Do(ctx); err != nil {
		p.logger.Debug("continue request", zap.String("url", req.URL), zap.Error(err))
	}
}

func (p *Page) answerAuth(e *fetch.EventAuthRequired) {
	resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
	if p.needsAuth() && e.AuthChallenge != nil && e.AuthChallenge.Source == fetch.AuthChallengeSourceProxy {
		resp = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: p.cfg.Proxy.Username,
			Password: p.cfg.Proxy.Password,
		}
	}
	if err := fetch.ContinueWithAuth(e.RequestID, resp).Do(p.executor()); err != nil {
		p.logger.Debug("answer auth challenge", zap.Error(err))
	}
}

// forwardCancel cancels the action context when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
