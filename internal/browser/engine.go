// internal/browser/engine.go
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrEngine marks failures of the browser engine itself: launch, tab
// creation, navigation. Callers test for it with errors.Is.
var ErrEngine = errors.New("browser engine failure")

// ErrTabClosed is returned by Tab operations after Close.
var ErrTabClosed = errors.New("tab is closed")

// Engine owns the browser process and hands out isolated tabs.
type Engine interface {
	// NewTab opens a tab in a fresh browser context with the fingerprint
	// preset already applied.
	NewTab(ctx context.Context) (Tab, error)
	// Shutdown terminates the browser process. Tabs still open are invalidated.
	Shutdown(ctx context.Context) error
}

// Tab is a handle on a single browser tab. Every operation is bounded by the
// passed context and by the tab's own lifetime.
type Tab interface {
	ID() string

	// Navigate loads url and returns once DOMContentLoaded has fired.
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// HTML returns the serialized markup of the current document.
	HTML(ctx context.Context) (string, error)

	// IsVisible reports whether the first match of selector is rendered,
	// waiting up to timeout for it to become so.
	IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// WaitReady waits up to timeout for selector to be present in the DOM.
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error

	// Fill replaces the content of the first match of selector with text.
	Fill(ctx context.Context, selector, text string) error
	// Press sends a single key (see chromedp/kb) to the first match of selector.
	Press(ctx context.Context, selector, key string) error
	Click(ctx context.Context, selector string) error

	// WaitNetworkIdle blocks until no request has been in flight for the
	// configured quiet period, or timeout expires.
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error

	Close(ctx context.Context) error
}
