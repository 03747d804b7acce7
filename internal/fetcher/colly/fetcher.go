// Package collyfetcher downloads documents that are already in a fixed-layout
// format, bypassing the browser.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
)

// Download failures that leave nothing on disk.
var (
	ErrEmptyBody = errors.New("empty response body")
	ErrTooLarge  = errors.New("response body exceeds download cap")
)

// DefaultMaxBodyBytes caps a document. Colly buffers the whole body before it
// is written, so the cap also bounds memory per concurrent download.
const DefaultMaxBodyBytes = 25 << 20

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Downloader saves a URL to a local file using the Colly collector.
type Downloader struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Downloader.
func New(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Downloader{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Download fetches rawURL and writes the body to dest, returning the number of
// bytes written. A body over the cap is an error and nothing is kept at dest.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) (n int64, err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}
	var (
		written  int64
		fetchErr error
	)
	defer func() {
		if err != nil {
			_ = os.Remove(dest)
		}
	}()
	collector := d.buildCollector()
	d.configureCollectorHooks(collector, dest, &written, &fetchErr)

	if err := d.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return 0, err
	}
	return written, nil
}

func (d *Downloader) buildCollector() *colly.Collector {
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	// One byte over the cap tells a full-size body from a truncated one.
	collector.MaxBodySize = d.cfg.MaxBodyBytes + 1
	collector.SetRequestTimeout(d.cfg.Timeout)
	collector.WithTransport(d.transport)
	return collector
}

func (d *Downloader) configureCollectorHooks(hooks collectorHooks, dest string, written *int64, fetchErr *error) {
	limit := d.cfg.MaxBodyBytes
	hooks.OnResponseHeaders(func(r *colly.Response) {
		if r.Headers == nil {
			return
		}
		size, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64)
		if err != nil || size <= int64(limit) {
			return
		}
		*fetchErr = fmt.Errorf("%w: content length %d over %d", ErrTooLarge, size, limit)
		if r.Request != nil {
			r.Request.Abort()
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		if len(r.Body) == 0 {
			*fetchErr = ErrEmptyBody
			return
		}
		if len(r.Body) > limit {
			*fetchErr = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
			return
		}
		if err := r.Save(dest); err != nil {
			*fetchErr = fmt.Errorf("save %s: %w", dest, err)
			return
		}
		*written = int64(len(r.Body))
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if *fetchErr != nil {
			return
		}
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (d *Downloader) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly download canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
