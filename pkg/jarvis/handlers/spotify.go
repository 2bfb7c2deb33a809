package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
)

// SpotifySearchURL is the search page of the Spotify web player.
const SpotifySearchURL = "https://open.spotify.com/search"

var (
	spotifySearchInputs = []string{
		"input[data-testid='search-input']",
		"input[placeholder*='What do you want to play']",
		"input[placeholder*='¿Qué quieres escuchar']",
		"input[type='search']",
	}
	spotifyPlayButtons = []string{
		"button[data-testid='play-button']",
		"button[aria-label^='Play']",
		"button[aria-label^='Reproducir']",
	}
	spotifyTrackRow = "[data-testid='tracklist-row']"
)

// ErrPlaybackFailed is returned when no play control could be triggered.
var ErrPlaybackFailed = errors.New("could not start playback on spotify")

// Spotify drives the Spotify web player.
type Spotify struct {
	opts   Options
	logger *slog.Logger
}

// Play searches for query and starts the first result.
func (s *Spotify) Play(ctx context.Context, page browser.Page, query string) error {
	if err := page.Navigate(ctx, SpotifySearchURL); err != nil {
		return err
	}

	input, ok := firstMatch(ctx, page, spotifySearchInputs, s.opts.WaitTimeout)
	if !ok {
		return errors.New("spotify search input not found")
	}

	if err := page.Fill(ctx, input, query); err != nil {
		return err
	}
	if err := page.Press(ctx, "Enter"); err != nil {
		return err
	}
	if err := pause(ctx, s.opts.Settle); err != nil {
		return err
	}

	if btn, ok := firstMatch(ctx, page, spotifyPlayButtons, s.opts.WaitTimeout); ok {
		if err := page.Click(ctx, btn); err == nil {
			s.logger.Info("spotify playing", "query", query, "via", btn)
			return nil
		}
	}

	// Fallback: select the first track row and toggle playback.
	if err := page.WaitFor(ctx, spotifyTrackRow, s.opts.WaitTimeout); err == nil {
		if err := page.Click(ctx, spotifyTrackRow); err == nil {
			if err := page.Press(ctx, "Space"); err == nil {
				s.logger.Info("spotify playing", "query", query, "via", "tracklist-row")
				return nil
			}
		}
	}

	return ErrPlaybackFailed
}

// spotifyLoggedIn reports false when a "Log in" control is visible.
func spotifyLoggedIn(ctx context.Context, page browser.Page) (bool, error) {
	raw, err := page.Evaluate(ctx, `!Array.from(document.querySelectorAll('button, a'))
		.some(function(el) { return (el.innerText || '').trim() === 'Log in'; })`)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
