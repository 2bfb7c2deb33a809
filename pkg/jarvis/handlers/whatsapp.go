package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
)

// WhatsAppURL is the WhatsApp Web landing page.
const WhatsAppURL = "https://web.whatsapp.com/"

// maxChatCandidates caps how many search results are compared by title.
const maxChatCandidates = 25

var (
	whatsappSearchBoxes = []string{
		"div[contenteditable='true'][data-tab='3']",
		"div[contenteditable='true'][data-tab='2']",
		"div[contenteditable='true'][role='textbox']",
	}
	whatsappMessageBoxes = []string{
		"div[contenteditable='true'][data-tab='10']",
		"div[contenteditable='true'][data-tab='9']",
		"footer div[contenteditable='true']",
		"div[contenteditable='true'][role='textbox']",
	}
)

var (
	// ErrNotLoggedIn is returned when WhatsApp Web shows no chat UI.
	ErrNotLoggedIn = errors.New("whatsapp search box not found (not logged in?)")

	// ErrChatNotFound is returned when the search yields no chat.
	ErrChatNotFound = errors.New("whatsapp chat not found")
)

// WhatsApp drives WhatsApp Web.
type WhatsApp struct {
	opts   Options
	logger *slog.Logger

	// url is the landing page; empty means WhatsAppURL.
	url string
}

func (w *WhatsApp) landingURL() string {
	if w.url != "" {
		return w.url
	}
	return WhatsAppURL
}

// Send opens the chat with contact and sends message. An empty message
// only opens the chat.
func (w *WhatsApp) Send(ctx context.Context, page browser.Page, contact, message string) error {
	if err := w.openChat(ctx, page, contact); err != nil {
		return err
	}
	if message == "" {
		return nil
	}

	box, err := w.messageBox(ctx, page)
	if err != nil {
		return err
	}
	if err := page.Click(ctx, box); err != nil {
		return err
	}
	if err := page.Fill(ctx, box, message); err != nil {
		return err
	}
	if err := page.Press(ctx, "Enter"); err != nil {
		return err
	}

	w.logger.Info("whatsapp message sent", "contact", contact, "len", len(message))
	return nil
}

func (w *WhatsApp) openChat(ctx context.Context, page browser.Page, contact string) error {
	if err := page.Navigate(ctx, w.landingURL()); err != nil {
		return err
	}

	search, ok := firstMatch(ctx, page, whatsappSearchBoxes, w.opts.WaitTimeout)
	if !ok {
		return ErrNotLoggedIn
	}
	if err := page.Click(ctx, search); err != nil {
		return err
	}
	if err := page.Fill(ctx, search, contact); err != nil {
		return err
	}
	if err := pause(ctx, w.opts.Settle); err != nil {
		return err
	}

	titles, err := chatTitles(ctx, page)
	if err != nil {
		return fmt.Errorf("read search results: %w", err)
	}
	idx := PickChat(titles, contact)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, contact)
	}

	target, err := markElement(ctx, page, "span[title]", idx, "chat")
	if err != nil {
		return err
	}
	return page.Click(ctx, target)
}

// messageBox returns a selector for the last matching compose box.
func (w *WhatsApp) messageBox(ctx context.Context, page browser.Page) (string, error) {
	for _, sel := range whatsappMessageBoxes {
		if err := page.WaitFor(ctx, sel, w.opts.WaitTimeout); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		target, err := markElement(ctx, page, sel, -1, "message")
		if err == nil {
			return target, nil
		}
	}
	return "", errors.New("whatsapp message box not found")
}

// PickChat returns the index of the result whose title matches contact:
// exact first, then ignoring case and accents, then the first result.
// It returns -1 when there are no results.
func PickChat(titles []string, contact string) int {
	if len(titles) == 0 {
		return -1
	}
	if len(titles) > maxChatCandidates {
		titles = titles[:maxChatCandidates]
	}
	for i, t := range titles {
		if t == contact {
			return i
		}
	}
	want := NormalizeName(contact)
	for i, t := range titles {
		if t != "" && NormalizeName(t) == want {
			return i
		}
	}
	return 0
}

// NormalizeName lowercases s, strips accents and collapses whitespace.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		out = strings.ToLower(strings.TrimSpace(s))
	}
	return strings.Join(strings.Fields(out), " ")
}

func chatTitles(ctx context.Context, page browser.Page) ([]string, error) {
	raw, err := page.Evaluate(ctx, fmt.Sprintf(`Array.from(document.querySelectorAll('span[title]'))
		.slice(0, %d)
		.map(function(el) { return el.getAttribute('title') || ''; })`, maxChatCandidates))
	if err != nil {
		return nil, err
	}
	var titles []string
	if err := json.Unmarshal(raw, &titles); err != nil {
		return nil, err
	}
	return titles, nil
}

// markElement tags the idx-th element matching selector (-1 for the last)
// with a data attribute and returns a selector for it.
func markElement(ctx context.Context, page browser.Page, selector string, idx int, tag string) (string, error) {
	js := fmt.Sprintf(`
		(function() {
			var els = document.querySelectorAll(%q);
			var i = %d < 0 ? els.length - 1 : %d;
			if (i < 0 || i >= els.length) return false;
			document.querySelectorAll('[data-jarvis-target=%q]').forEach(function(e) {
				e.removeAttribute('data-jarvis-target');
			});
			els[i].setAttribute('data-jarvis-target', %q);
			return true;
		})()
	`, selector, idx, idx, tag, tag)

	raw, err := page.Evaluate(ctx, js)
	if err != nil {
		return "", err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil || !ok {
		return "", fmt.Errorf("%w: %s[%d]", browser.ErrElementNotFound, selector, idx)
	}
	return targetSelector(tag), nil
}

func targetSelector(tag string) string {
	return fmt.Sprintf("[data-jarvis-target='%s']", tag)
}

func whatsappLoggedIn(ctx context.Context, page browser.Page) (bool, error) {
	raw, err := page.Evaluate(ctx,
		`!!document.querySelector('canvas') && (document.body.innerText || '').indexOf('Scan me') >= 0`)
	if err != nil {
		return false, err
	}
	var showingQR bool
	if err := json.Unmarshal(raw, &showingQR); err == nil && showingQR {
		return false, nil
	}
	if err := page.WaitFor(ctx, "div[contenteditable='true']", 2*time.Second); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LoggedIn reports, best effort, whether the service's page shows a
// logged-in UI.
func LoggedIn(ctx context.Context, service string, page browser.Page) (bool, error) {
	switch service {
	case browser.ServiceSpotify:
		return spotifyLoggedIn(ctx, page)
	case browser.ServiceWhatsApp:
		return whatsappLoggedIn(ctx, page)
	default:
		return false, fmt.Errorf("%w: %q", browser.ErrUnknownService, service)
	}
}
