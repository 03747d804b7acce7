// Package browser defines the headless-browser capability consumed by the
// search and rendering pipelines. Implementations live in subpackages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks a navigation, element wait, or export that ran past its deadline.
var ErrTimeout = errors.New("browser timeout")

// ErrClosed is returned when a page or browser is used after Close.
var ErrClosed = errors.New("browser closed")

// Key names accepted by Page.Press.
const (
	KeyEnter = "Enter"
)

// Request describes an outgoing fetch seen by a RequestFilter.
type Request struct {
	URL          string
	ResourceType string
}

// RequestFilter reports whether a request may proceed. Returning false aborts it.
type RequestFilter func(Request) bool

// PageOptions shape a new page.
type PageOptions struct {
	// UseProxy routes the page through the anonymizing egress path.
	UseProxy bool
	// Stealth applies anti-detection measures before the first navigation.
	Stealth bool
}

// Browser hands out pages. A Browser is owned by a single job and must be closed
// by that owner; pages opened from it do not outlive it.
type Browser interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Factory opens a fresh Browser for one job.
type Factory func() (Browser, error)

// Page is a single tab. Every method is a suspension point; a method that runs
// past its timeout returns an error matching ErrTimeout.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Type(ctx context.Context, selector, text string) error
	Press(ctx context.Context, key string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitNotPresent(ctx context.Context, selector string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	PrintPDF(ctx context.Context, path string) error
	SetRequestFilter(ctx context.Context, filter RequestFilter) error
	Close() error
}

// IsTimeout reports whether err came from a deadline rather than another failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Classify wraps deadline errors with ErrTimeout so callers can branch on IsTimeout
// without knowing which layer produced the deadline.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Blocked resource classes that add load time and fingerprinting surface without
// contributing to result extraction.
var blockedResourceTypes = map[string]struct{}{
	"Font":               {},
	"Image":              {},
	"Media":              {},
	"Stylesheet":         {},
	"Ping":               {},
	"CSPViolationReport": {},
	"TextTrack":          {},
}

// EssentialOnly is the default search-page filter: it aborts fonts, images,
// media, stylesheets, and tracking beacons.
func EssentialOnly(req Request) bool {
	_, blocked := blockedResourceTypes[req.ResourceType]
	return !blocked
}
