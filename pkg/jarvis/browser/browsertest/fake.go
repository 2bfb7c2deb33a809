// Package browsertest provides an in-memory browser engine for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
)

// Engine is a fake browser.Engine. Every launch yields a new Context with a
// fresh Page built by NewPage.
type Engine struct {
	// LaunchDelay slows every launch down, widening race windows in tests.
	LaunchDelay time.Duration

	// LaunchErr, when set, is consulted on every launch.
	LaunchErr func(profileDir string) error

	// NewPage builds the page of each launched context. Defaults to NewPage().
	NewPage func() *Page

	mu       sync.Mutex
	launches int
	closes   int
	contexts []*Context
}

// LaunchPersistent implements browser.Engine.
func (e *Engine) LaunchPersistent(ctx context.Context, profileDir string) (browser.BrowserContext, error) {
	if e.LaunchDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.LaunchDelay):
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.launches++
	if e.LaunchErr != nil {
		if err := e.LaunchErr(profileDir); err != nil {
			return nil, err
		}
	}

	page := NewPage()
	if e.NewPage != nil {
		page = e.NewPage()
	}
	c := &Context{ProfileDir: profileDir, page: page}
	e.contexts = append(e.contexts, c)
	return c, nil
}

// Close implements browser.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

// Launches reports how many times LaunchPersistent was called.
func (e *Engine) Launches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches
}

// Closes reports how many times Close was called.
func (e *Engine) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// Contexts returns every successfully launched context.
func (e *Engine) Contexts() []*Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Context(nil), e.contexts...)
}

// Context is a fake browser.BrowserContext.
type Context struct {
	ProfileDir string

	mu     sync.Mutex
	page   *Page
	closed bool
}

// FirstPage implements browser.BrowserContext.
func (c *Context) FirstPage(ctx context.Context) (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("context closed")
	}
	return c.page, nil
}

// Close implements browser.BrowserContext.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Page is a fake browser.Page that records every call.
type Page struct {
	// Selectors lists the selectors that match an element.
	Selectors map[string]bool

	// EvalFunc answers Evaluate. Defaults to returning null.
	EvalFunc func(expression string) (json.RawMessage, error)

	// NavigateErr, when set, fails every Navigate.
	NavigateErr error

	// PNG is returned by Screenshot.
	PNG []byte

	mu    sync.Mutex
	calls []string
	url   string
}

// NewPage creates a page where no selector matches.
func NewPage(selectors ...string) *Page {
	p := &Page{Selectors: make(map[string]bool), PNG: []byte("\x89PNG fake")}
	for _, s := range selectors {
		p.Selectors[s] = true
	}
	return p
}

func (p *Page) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// URL returns the last navigated URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.url = url
	return nil
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wait %s", selector)
	if !p.Selectors[selector] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Selectors[selector] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	p.record("click %s", selector)
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Selectors[selector] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	p.record("fill %s = %s", selector, value)
	return nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("press %s", key)
	return nil
}

func (p *Page) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	p.mu.Lock()
	fn := p.EvalFunc
	p.record("eval")
	p.mu.Unlock()

	if fn == nil {
		return json.RawMessage("null"), nil
	}
	return fn(expression)
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot full=%t", fullPage)
	return p.PNG, nil
}
