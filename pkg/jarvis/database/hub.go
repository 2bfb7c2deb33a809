package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// PrimaryName is the key of the primary backend in Hub.Status.
const PrimaryName = "primary"

// ErrClosed is reported once the hub has been closed.
var ErrClosed = errors.New("database hub closed")

// Hub owns the primary backend: it picks the driver from HubConfig, migrates
// the schema on open and reports health.
type Hub struct {
	primary *Backend
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewHub opens the backend selected by config, resolving relative SQLite
// paths against dataDir, and migrates it to the latest schema.
func NewHub(config HubConfig, dataDir string, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "database")

	cfg, err := primaryConfig(config.Effective(dataDir))
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Type, err)
	}
	if err := backend.Migrate(0); err != nil {
		backend.DB.Close()
		return nil, fmt.Errorf("migrate %s backend: %w", cfg.Type, err)
	}

	logger.Info("database ready", "type", cfg.Type)
	return &Hub{primary: backend, logger: logger}, nil
}

func primaryConfig(cfg HubConfig) (Config, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return cfg.SQLite.ToConfig(), nil
	case BackendPostgreSQL:
		return cfg.PostgreSQL.ToConfig(), nil
	default:
		return Config{}, fmt.Errorf("unsupported backend type: %s", cfg.Backend)
	}
}

// Primary returns the primary backend.
func (h *Hub) Primary() *Backend { return h.primary }

// DB returns the primary connection pool.
func (h *Hub) DB() *sql.DB { return h.primary.DB }

// Type returns the primary backend type.
func (h *Hub) Type() BackendType { return h.primary.Type }

// Status reports backend health keyed by backend name.
func (h *Hub) Status() map[string]HealthStatus {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return map[string]HealthStatus{PrimaryName: {Error: ErrClosed.Error()}}
	}
	return map[string]HealthStatus{PrimaryName: h.primary.Health()}
}

// Close closes the primary connection. Later calls are no-ops.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.primary.DB.Close(); err != nil {
		return fmt.Errorf("close %s backend: %w", h.primary.Type, err)
	}
	h.logger.Debug("database closed")
	return nil
}
