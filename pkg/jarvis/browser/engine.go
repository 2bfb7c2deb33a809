// Package browser owns the live automation sessions for external web
// services. Each service gets one persistent browser profile and one page,
// created on first use and kept until CloseAll.
//
// Architecture:
//
//	Orchestrator ──Session("spotify")──▶ Manager ──LaunchPersistent──▶ Engine ──▶ Chrome (profile dir)
//	HTTP/CLI     ──Screenshot("whatsapp")──▶ Manager ──Page.Screenshot──▶ PNG
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrUnknownService is returned when a session is requested for a
	// service that has no landing URL configured.
	ErrUnknownService = errors.New("unknown service")

	// ErrChromeNotFound is returned when no Chrome/Chromium binary is available.
	ErrChromeNotFound = errors.New("chrome/chromium not found; install Chrome or set browser.chrome_path in config")

	// ErrElementNotFound is returned by Page operations when a selector matches nothing.
	ErrElementNotFound = errors.New("element not found")
)

// Engine launches persistent browser contexts.
type Engine interface {
	// LaunchPersistent starts a browser context whose profile lives in
	// profileDir, so cookies and logins survive restarts.
	LaunchPersistent(ctx context.Context, profileDir string) (BrowserContext, error)

	// Close releases the engine and anything it still holds.
	Close() error
}

// BrowserContext is one running browser profile.
type BrowserContext interface {
	// FirstPage returns the first open page, opening one if there is none.
	FirstPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab driven by the handlers.
type Page interface {
	// Navigate loads url and waits until the DOM is parsed.
	Navigate(ctx context.Context, url string) error

	// WaitFor blocks until selector matches an element or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	Click(ctx context.Context, selector string) error

	// Fill replaces the text of an input or contenteditable element.
	Fill(ctx context.Context, selector, value string) error

	// Press sends a single key (e.g. "Enter", "Space") to the focused element.
	Press(ctx context.Context, key string) error

	// Evaluate runs a JavaScript expression and returns its JSON value.
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)

	// Screenshot captures the page as PNG.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
}
