package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChromeEngine launches one Chrome process per persistent profile and drives
// its first tab over the Chrome DevTools Protocol.
type ChromeEngine struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	contexts map[*chromeContext]struct{}
}

// NewChromeEngine creates a new CDP engine.
func NewChromeEngine(cfg Config, logger *slog.Logger) *ChromeEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeEngine{
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "chrome"),
		contexts: make(map[*chromeContext]struct{}),
	}
}

// findChrome locates the Chrome/Chromium binary.
func (e *ChromeEngine) findChrome() string {
	if e.cfg.ChromePath != "" {
		return e.cfg.ChromePath
	}
	candidates := []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium-browser",
		"chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path
		}
	}
	return ""
}

// allocatePort finds a free TCP port.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// LaunchPersistent starts Chrome with its profile rooted at profileDir.
// The process outlives ctx; ctx only bounds the startup handshake.
func (e *ChromeEngine) LaunchPersistent(ctx context.Context, profileDir string) (BrowserContext, error) {
	chromePath := e.findChrome()
	if chromePath == "" {
		return nil, ErrChromeNotFound
	}

	port, err := allocatePort()
	if err != nil {
		return nil, fmt.Errorf("allocate CDP port: %w", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + profileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-popup-blocking",
		"--disable-translate",
		"--disable-background-networking",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		fmt.Sprintf("--window-size=%d,%d", e.cfg.ViewportWidth, e.cfg.ViewportHeight),
	}
	if e.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, e.cfg.ExtraArgs...)
	args = append(args, "about:blank")

	cmd := exec.Command(chromePath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	e.logger.Info("chrome started", "pid", cmd.Process.Pid, "port", port, "profile", profileDir)

	bc := &chromeContext{
		engine: e,
		cmd:    cmd,
		port:   port,
		logger: e.logger.With("port", port),
	}

	if err := bc.waitForCDP(ctx, 15*time.Second); err != nil {
		bc.kill()
		return nil, fmt.Errorf("CDP not ready: %w", err)
	}

	e.mu.Lock()
	e.contexts[bc] = struct{}{}
	e.mu.Unlock()

	return bc, nil
}

// Close kills every Chrome process this engine still owns. The engine can
// launch new contexts afterwards.
func (e *ChromeEngine) Close() error {
	e.mu.Lock()
	contexts := make([]*chromeContext, 0, len(e.contexts))
	for bc := range e.contexts {
		contexts = append(contexts, bc)
	}
	e.mu.Unlock()

	var errs []error
	for _, bc := range contexts {
		if err := bc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *ChromeEngine) forget(bc *chromeContext) {
	e.mu.Lock()
	delete(e.contexts, bc)
	e.mu.Unlock()
}

// chromeContext is one Chrome process with a persistent profile.
type chromeContext struct {
	engine *ChromeEngine
	cmd    *exec.Cmd
	port   int
	logger *slog.Logger

	mu     sync.Mutex
	page   *chromePage
	closed bool
}

type cdpTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// waitForCDP polls the CDP /json/version endpoint until it responds.
func (bc *chromeContext) waitForCDP(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", bc.port)

	for time.Now().Before(deadline) {
		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil {
			var info struct {
				WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
			}
			ok := json.NewDecoder(resp.Body).Decode(&info) == nil && info.WebSocketDebuggerURL != ""
			resp.Body.Close()
			if ok {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for CDP on port %d", bc.port)
}

// FirstPage attaches to the first "page" target, opening one if needed.
func (bc *chromeContext) FirstPage(ctx context.Context) (Page, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return nil, errors.New("browser context closed")
	}
	if bc.page != nil {
		return bc.page, nil
	}

	target, err := bc.firstTarget(ctx)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("CDP WebSocket dial failed: %w", err)
	}

	bc.page = &chromePage{
		conn:    conn,
		timeout: time.Duration(bc.engine.cfg.TimeoutSeconds) * time.Second,
		logger:  bc.logger.With("target", target.ID),
	}
	return bc.page, nil
}

func (bc *chromeContext) firstTarget(ctx context.Context) (cdpTarget, error) {
	var targets []cdpTarget
	if err := bc.getJSON(ctx, http.MethodGet, "/json/list", &targets); err != nil {
		return cdpTarget{}, fmt.Errorf("list targets: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t, nil
		}
	}

	var created cdpTarget
	if err := bc.getJSON(ctx, http.MethodPut, "/json/new?about:blank", &created); err != nil {
		return cdpTarget{}, fmt.Errorf("open page: %w", err)
	}
	if created.WebSocketDebuggerURL == "" {
		return cdpTarget{}, errors.New("new page has no debugger URL")
	}
	return created, nil
}

func (bc *chromeContext) getJSON(ctx context.Context, method, path string, out any) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", bc.port, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Close closes the CDP connection and kills the Chrome process.
func (bc *chromeContext) Close() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return nil
	}
	bc.closed = true

	if bc.page != nil {
		bc.page.close()
		bc.page = nil
	}
	bc.kill()
	bc.engine.forget(bc)
	return nil
}

func (bc *chromeContext) kill() {
	if bc.cmd != nil && bc.cmd.Process != nil {
		bc.cmd.Process.Kill()
		bc.cmd.Wait()
		bc.logger.Info("chrome stopped")
	}
}

// chromePage drives one tab. Commands are serialized on the connection.
type chromePage struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	msgID int
}

// send sends a CDP command and waits for the response, skipping events.
func (p *chromePage) send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil, errors.New("CDP connection closed")
	}

	p.msgID++
	msg := map[string]any{
		"id":     p.msgID,
		"method": method,
	}
	if params != nil {
		msg["params"] = params
	}

	if err := p.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("CDP write error: %w", err)
	}

	targetID := p.msgID
	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	p.conn.SetReadDeadline(deadline)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("CDP read error (%s): %w", method, err)
		}

		var resp struct {
			ID     int             `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &resp) == nil && resp.ID == targetID {
			if resp.Error != nil {
				return nil, fmt.Errorf("CDP error (%s): %s", method, resp.Error.Message)
			}
			return resp.Result, nil
		}
	}
}

func (p *chromePage) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Navigate opens url and waits for DOMContentLoaded.
func (p *chromePage) Navigate(ctx context.Context, url string) error {
	result, err := p.send(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return err
	}
	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if json.Unmarshal(result, &nav) == nil && nav.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, nav.ErrorText)
	}

	deadline := time.Now().Add(p.timeout)
	for time.Now().Before(deadline) {
		state, err := p.evalString(ctx, "document.readyState")
		if err == nil && state != "loading" {
			return nil
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
	return fmt.Errorf("navigate %s: timeout waiting for DOM", url)
}

// WaitFor polls for selector until it matches.
func (p *chromePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	js := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
	deadline := time.Now().Add(timeout)
	for {
		raw, err := p.Evaluate(ctx, js)
		if err != nil {
			return err
		}
		if string(raw) == "true" {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s (waited %s)", ErrElementNotFound, selector, timeout)
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

// Click clicks the first element matched by CSS selector.
func (p *chromePage) Click(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%s);
			if (!el) return 'not_found';
			el.scrollIntoView({block: 'center'});
			el.click();
			return 'ok';
		})()
	`, jsString(selector))

	value, err := p.evalString(ctx, js)
	if err != nil {
		return err
	}
	if value == "not_found" {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// Fill focuses the element, selects its content and types value over it.
// Works for inputs and contenteditable boxes alike.
func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	js := fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%s);
			if (!el) return 'not_found';
			el.focus();
			if (el.isContentEditable) {
				var range = document.createRange();
				range.selectNodeContents(el);
				var sel = window.getSelection();
				sel.removeAllRanges();
				sel.addRange(range);
			} else if (typeof el.select === 'function') {
				el.select();
			}
			return 'ok';
		})()
	`, jsString(selector))

	state, err := p.evalString(ctx, js)
	if err != nil {
		return err
	}
	if state == "not_found" {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	_, err = p.send(ctx, "Input.insertText", map[string]any{"text": value})
	return err
}

type keyDef struct {
	key  string
	code string
	vk   int
	text string
}

var keys = map[string]keyDef{
	"Enter":     {"Enter", "Enter", 13, "\r"},
	"Space":     {" ", "Space", 32, " "},
	"Tab":       {"Tab", "Tab", 9, ""},
	"Escape":    {"Escape", "Escape", 27, ""},
	"Backspace": {"Backspace", "Backspace", 8, ""},
}

// Press dispatches a keyDown/keyUp pair for key.
func (p *chromePage) Press(ctx context.Context, key string) error {
	def, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}

	down := map[string]any{
		"type":                  "keyDown",
		"key":                   def.key,
		"code":                  def.code,
		"windowsVirtualKeyCode": def.vk,
	}
	if def.text != "" {
		down["text"] = def.text
	}
	if _, err := p.send(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return err
	}

	_, err := p.send(ctx, "Input.dispatchKeyEvent", map[string]any{
		"type":                  "keyUp",
		"key":                   def.key,
		"code":                  def.code,
		"windowsVirtualKeyCode": def.vk,
	})
	return err
}

// Evaluate runs expression in the page and returns its value as JSON.
func (p *chromePage) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	result, err := p.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return nil, err
	}

	var evalResult struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &evalResult); err != nil {
		return nil, err
	}
	if evalResult.ExceptionDetails != nil {
		return nil, fmt.Errorf("javascript error: %s", evalResult.ExceptionDetails.Text)
	}
	if len(evalResult.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return evalResult.Result.Value, nil
}

func (p *chromePage) evalString(ctx context.Context, expression string) (string, error) {
	raw, err := p.Evaluate(ctx, expression)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected string result, got %s", strings.TrimSpace(string(raw)))
	}
	return s, nil
}

// Screenshot captures the page as PNG.
func (p *chromePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	result, err := p.send(ctx, "Page.captureScreenshot", map[string]any{
		"format":                "png",
		"captureBeyondViewport": fullPage,
	})
	if err != nil {
		return nil, err
	}
	var shot struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &shot); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(shot.Data)
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
