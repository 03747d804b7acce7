// Package ratelimit paces outbound fetches per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostRate overrides the default pace for one host.
type HostRate struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config controls the buckets. A non-positive RPS means unlimited.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Hosts        []HostRate
	// ObserveDelay is called whenever Wait actually blocked.
	ObserveDelay func(host string, waited time.Duration)
}

type bucketSpec struct {
	limit rate.Limit
	burst int
}

func specFor(rps float64, burst int) bucketSpec {
	s := bucketSpec{limit: rate.Limit(rps), burst: burst}
	if rps <= 0 {
		s.limit = rate.Inf
	}
	if s.burst <= 0 {
		s.burst = 1
	}
	return s
}

// Limiter hands out one bucket per host, created on first use.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	fallback  bucketSpec
	overrides map[string]bucketSpec
	observe   func(host string, waited time.Duration)
}

// New builds a Limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{
		buckets:   make(map[string]*rate.Limiter),
		fallback:  specFor(cfg.DefaultRPS, cfg.DefaultBurst),
		overrides: make(map[string]bucketSpec, len(cfg.Hosts)),
		observe:   cfg.ObserveDelay,
	}
	for _, h := range cfg.Hosts {
		host := strings.ToLower(strings.TrimSpace(h.Host))
		if host == "" {
			continue
		}
		l.overrides[host] = specFor(h.RPS, h.Burst)
	}
	return l
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	spec, ok := l.overrides[host]
	if !ok {
		spec = l.fallback
	}
	b := rate.NewLimiter(spec.limit, spec.burst)
	l.buckets[host] = b
	return b
}

// Wait blocks until the host of rawURL may be fetched again.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", host, err)
	}
	if waited := time.Since(start); l.observe != nil && waited > time.Millisecond {
		l.observe(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
