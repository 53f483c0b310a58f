package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrUnsupported = errors.New("operation not supported by driver")
	ErrPageClosed  = errors.New("page is closed")
)

// Driver owns a browser installation and hands out isolated pages.
type Driver interface {
	// NewPage creates a page in a fresh browser context that shares no
	// cookies or storage with any other page.
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is the exclusive handle a single test case drives. Interactions block
// until the target element is actionable or the action timeout elapses.
type Page interface {
	SetViewport(ctx context.Context, width, height int) error
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Query returns a snapshot of the elements currently matching selector
	// without waiting for any to appear.
	Query(ctx context.Context, selector string) ([]Element, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	URL(ctx context.Context) (string, error)
	ConsoleErrors() []ConsoleError
	Close() error
}

type Element struct {
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

type ConsoleError struct {
	Message   string
	Type      string
	Timestamp time.Time
	URL       string
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	ActionTimeouts map[string]time.Duration
	// HTTPClient is only used by the static driver.
	HTTPClient *http.Client
}

func (o Options) timeoutFor(action string) time.Duration {
	if d, ok := o.ActionTimeouts[action]; ok && d > 0 {
		return d
	}
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 30 * time.Second
}

// Open starts the named driver: chromedp, playwright, rod or static.
func Open(name string, opts Options) (Driver, error) {
	switch name {
	case "", "chromedp":
		return NewChromedp(opts)
	case "playwright":
		return NewPlaywright(opts)
	case "rod":
		return NewRod(opts)
	case "static":
		return NewStatic(opts), nil
	default:
		return nil, fmt.Errorf("unknown driver: %s", name)
	}
}

// TimeoutError reports an interaction or navigation that did not complete
// within its bound.
type TimeoutError struct {
	Action  string
	Locator string
	Bound   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("%s: timed out after %s", e.Action, e.Bound)
	}
	return fmt.Sprintf("%s %s: timed out after %s waiting for element", e.Action, e.Locator, e.Bound)
}

// NavigationError reports a page that failed to load. Navigation is never
// retried. Status is set when the server answered with an error status.
type NavigationError struct {
	URL    string
	Status int
	Err    error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// checkStatus fails a navigation whose main document came back with a 4xx or
// 5xx status.
func checkStatus(url string, status int) error {
	if status < http.StatusBadRequest {
		return nil
	}
	return &NavigationError{
		URL:    url,
		Status: status,
		Err:    fmt.Errorf("HTTP %d %s", status, http.StatusText(status)),
	}
}

// classify turns a deadline into a TimeoutError and wraps anything else with
// the action.
func classify(action, selector string, bound time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Action: action, Locator: selector, Bound: bound}
	}
	if selector == "" {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fmt.Errorf("%s %s: %w", action, selector, err)
}
