package browser_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
	"github.com/jholhewres/jarvis/pkg/jarvis/browser/browsertest"
)

func newManager(t *testing.T, engine browser.Engine) *browser.Manager {
	t.Helper()
	return browser.NewManager(engine, t.TempDir(), browser.DefaultConfig().Services, nil)
}

func TestSession_ConcurrentCreatesOnce(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{LaunchDelay: 20 * time.Millisecond}
	m := newManager(t, engine)

	const n = 16
	sessions := make([]*browser.Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Session(context.Background(), browser.ServiceSpotify)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, engine.Launches())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, browser.ServiceSpotify, sessions[0].Service())

	page := sessions[0].Page().(*browsertest.Page)
	assert.Equal(t, "https://open.spotify.com/", page.URL())
}

func TestSession_PerServiceProfile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	engine := &browsertest.Engine{}
	m := browser.NewManager(engine, dir, browser.DefaultConfig().Services, nil)

	wa, err := m.Session(context.Background(), browser.ServiceWhatsApp)
	require.NoError(t, err)
	sp, err := m.Session(context.Background(), browser.ServiceSpotify)
	require.NoError(t, err)

	assert.NotSame(t, wa, sp)
	assert.Equal(t, 2, engine.Launches())
	assert.DirExists(t, filepath.Join(dir, "browser", "whatsapp"))
	assert.DirExists(t, filepath.Join(dir, "browser", "spotify"))
	assert.Equal(t, []string{"spotify", "whatsapp"}, m.Active())
}

func TestSession_UnknownService(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{}
	m := newManager(t, engine)

	_, err := m.Session(context.Background(), "myspace")
	assert.ErrorIs(t, err, browser.ErrUnknownService)
	assert.Zero(t, engine.Launches())
}

func TestSession_FailedCreationNotCached(t *testing.T) {
	t.Parallel()

	fail := true
	engine := &browsertest.Engine{
		LaunchErr: func(string) error {
			if fail {
				return errors.New("no display")
			}
			return nil
		},
	}
	m := newManager(t, engine)

	_, err := m.Session(context.Background(), browser.ServiceWhatsApp)
	require.ErrorContains(t, err, "no display")
	assert.Empty(t, m.Active())

	fail = false
	s, err := m.Session(context.Background(), browser.ServiceWhatsApp)
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, 2, engine.Launches())
}

func TestSession_NavigateFailureClosesContext(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{
		NewPage: func() *browsertest.Page {
			p := browsertest.NewPage()
			p.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
			return p
		},
	}
	m := newManager(t, engine)

	_, err := m.Session(context.Background(), browser.ServiceSpotify)
	require.Error(t, err)

	contexts := engine.Contexts()
	require.Len(t, contexts, 1)
	assert.True(t, contexts[0].Closed())
}

func TestCloseAll_ThenFreshSession(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{}
	m := newManager(t, engine)

	first, err := m.Session(context.Background(), browser.ServiceSpotify)
	require.NoError(t, err)

	require.NoError(t, m.CloseAll())
	require.NoError(t, m.CloseAll())
	assert.Empty(t, m.Active())
	assert.True(t, engine.Contexts()[0].Closed())
	assert.Equal(t, 2, engine.Closes())

	second, err := m.Session(context.Background(), browser.ServiceSpotify)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, engine.Launches())
}

func TestCloseAll_NoSessions(t *testing.T) {
	t.Parallel()

	m := newManager(t, &browsertest.Engine{})
	assert.NoError(t, m.CloseAll())
}

func TestScreenshot(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{}
	m := newManager(t, engine)

	png, err := m.Screenshot(context.Background(), browser.ServiceWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG fake"), png)

	s, err := m.Session(context.Background(), browser.ServiceWhatsApp)
	require.NoError(t, err)
	calls := s.Page().(*browsertest.Page).Calls()
	assert.Equal(t, []string{"navigate https://web.whatsapp.com/", "screenshot full=true"}, calls)
	assert.Equal(t, 1, engine.Launches())
}

func TestServices(t *testing.T) {
	t.Parallel()

	m := newManager(t, &browsertest.Engine{})
	assert.Equal(t, []string{"spotify", "whatsapp"}, m.Services())
}
