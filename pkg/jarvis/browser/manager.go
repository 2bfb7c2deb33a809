package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Session is the live automation state of one service: a persistent
// browser context and its page. Only the Manager creates sessions.
type Session struct {
	service string
	context BrowserContext
	page    Page
}

// Service returns the service name this session belongs to.
func (s *Session) Service() string { return s.service }

// Page returns the session's page.
func (s *Session) Page() Page { return s.page }

// Context returns the underlying browser context.
func (s *Session) Context() BrowserContext { return s.context }

// Manager keeps at most one session per service. Sessions are created on
// first demand and live until CloseAll.
type Manager struct {
	engine   Engine
	dataDir  string
	services map[string]string
	logger   *slog.Logger

	// mu is held for the whole get-or-create, so concurrent callers never
	// launch two contexts for the same service.
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Profiles live under
// <dataDir>/browser/<service>.
func NewManager(engine Engine, dataDir string, services map[string]string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	svc := make(map[string]string, len(services))
	for name, url := range services {
		svc[name] = url
	}
	return &Manager{
		engine:   engine,
		dataDir:  dataDir,
		services: svc,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
	}
}

// Session returns the live session for service, creating it if needed.
// A failed creation is not remembered; the next call tries again.
func (m *Manager) Session(ctx context.Context, service string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[service]; ok {
		return s, nil
	}

	url, ok := m.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	s, err := m.create(ctx, service, url)
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", service, err)
	}
	m.sessions[service] = s
	return s, nil
}

func (m *Manager) create(ctx context.Context, service, url string) (*Session, error) {
	profile := m.ProfileDir(service)
	if err := os.MkdirAll(profile, 0o700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	m.logger.Info("launching session", "service", service, "profile", profile)

	bc, err := m.engine.LaunchPersistent(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	page, err := bc.FirstPage(ctx)
	if err != nil {
		bc.Close()
		return nil, fmt.Errorf("first page: %w", err)
	}

	if err := page.Navigate(ctx, url); err != nil {
		bc.Close()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}

	m.logger.Info("session ready", "service", service, "url", url)
	return &Session{service: service, context: bc, page: page}, nil
}

// ProfileDir returns the persistent profile directory of service.
func (m *Manager) ProfileDir(service string) string {
	return filepath.Join(m.dataDir, "browser", service)
}

// Screenshot captures a full-page PNG of the service's page, opening the
// session if needed.
func (m *Manager) Screenshot(ctx context.Context, service string) ([]byte, error) {
	s, err := m.Session(ctx, service)
	if err != nil {
		return nil, err
	}
	png, err := s.page.Screenshot(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", service, err)
	}
	return png, nil
}

// CloseAll closes every session and releases the engine. It is safe to call
// repeatedly; later Session calls start fresh.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, s := range m.sessions {
		if err := s.context.Close(); err != nil {
			m.logger.Warn("close session failed", "service", name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	m.sessions = make(map[string]*Session)

	if err := m.engine.Close(); err != nil {
		m.logger.Warn("close engine failed", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Services returns the configured service names, sorted.
func (m *Manager) Services() []string {
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Active returns the names of services with a live session, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
