// Package database provides the database hub behind the event/state store.
// SQLite is the default backend and needs no configuration; PostgreSQL is
// available for deployments that already run one.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/database/backends"
)

// BackendType identifies the type of database backend.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendPostgreSQL BackendType = "postgresql"
)

// Backend is an open connection plus the schema and health hooks of its driver.
type Backend struct {
	Type   BackendType
	DB     *sql.DB
	Config Config

	migrate func(target int) error
	status  func() (map[string]any, error)
}

// HealthStatus is the health of a backend as reported by Hub.Status.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Version string        `json:"version"`
	Error   string        `json:"error,omitempty"`

	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
	MaxOpenConns    int           `json:"max_open_conns"`
}

// Migrate applies schema migrations up to target; 0 means the latest.
func (b *Backend) Migrate(target int) error {
	return b.migrate(target)
}

// Health queries the driver. Failures are reported in HealthStatus.Error.
func (b *Backend) Health() HealthStatus {
	m, err := b.status()
	if err != nil {
		return HealthStatus{Error: err.Error()}
	}
	latency, _ := time.ParseDuration(str(m, "latency"))
	return HealthStatus{
		Healthy:         m["healthy"] == true,
		Version:         str(m, "version"),
		Error:           str(m, "error"),
		Latency:         latency,
		OpenConnections: int(num(m, "open_conns")),
		InUse:           int(num(m, "in_use")),
		Idle:            int(num(m, "idle")),
		WaitCount:       num(m, "wait_count"),
		WaitDuration:    time.Duration(num(m, "wait_duration_ms")) * time.Millisecond,
		MaxOpenConns:    int(num(m, "max_open_conns")),
	}
}

// openBackend connects to the database cfg describes.
func openBackend(cfg Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Type {
	case BackendSQLite:
		b, err := backends.OpenSQLite(backends.SQLiteConfig{
			Path:        cfg.Path,
			JournalMode: cfg.JournalMode,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{Type: cfg.Type, DB: b.DB, Config: cfg, migrate: b.Migrator.Migrate, status: b.Health.Status}, nil

	case BackendPostgreSQL:
		b, err := backends.OpenPostgreSQL(backends.PostgreSQLConfig{
			URL:             cfg.URL,
			Host:            cfg.Host,
			Port:            cfg.Port,
			Database:        cfg.Database,
			User:            cfg.User,
			Password:        cfg.Password,
			SSLMode:         cfg.SSLMode,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Type: cfg.Type, DB: b.DB, Config: cfg, migrate: b.Migrator.Migrate, status: b.Health.Status}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
