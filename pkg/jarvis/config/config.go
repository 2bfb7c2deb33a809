// Package config defines the jarvis configuration file and its defaults.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
	"github.com/jholhewres/jarvis/pkg/jarvis/database"
	"github.com/jholhewres/jarvis/pkg/jarvis/orchestrator"
	"github.com/jholhewres/jarvis/pkg/jarvis/planner"
	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
)

// DefaultDataDir is where state lives when nothing else is configured.
const DefaultDataDir = "./data"

// Config is the top-level configuration.
type Config struct {
	// Name is the assistant name shown in the CLI (default: "Jarvis").
	Name string `yaml:"name"`

	// DataDir holds the database and per-service browser profiles.
	DataDir string `yaml:"data_dir"`

	Logging      LoggingConfig       `yaml:"logging"`
	Database     database.HubConfig  `yaml:"database"`
	Browser      browser.Config      `yaml:"browser"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Scheduler    SchedulerConfig     `yaml:"scheduler"`
	Planner      PlannerConfig       `yaml:"planner"`
	Discord      DiscordConfig       `yaml:"discord"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level: debug, info, warn, error (default: info).
	Level string `yaml:"level"`

	// Format: json or text (default: json).
	Format string `yaml:"format"`
}

// SchedulerConfig holds the polling schedules of the background loops.
type SchedulerConfig struct {
	// Reminders is a cron spec or descriptor (default: "@every 5s").
	Reminders string `yaml:"reminders"`

	// Alarms is a cron spec or descriptor (default: "@every 5s").
	Alarms string `yaml:"alarms"`
}

// PlannerConfig selects the planner.
type PlannerConfig struct {
	// Mode: rules or json (default: rules).
	Mode string `yaml:"mode"`
}

// DiscordConfig configures the discord.send action.
type DiscordConfig struct {
	// Token is the bot token. Supports ${ENV_VAR}; the OS keyring is
	// consulted when empty.
	Token string `yaml:"token"`
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() *Config {
	return &Config{
		Name:         "Jarvis",
		DataDir:      DefaultDataDir,
		Logging:      LoggingConfig{Level: "info", Format: "json"},
		Database:     database.HubConfig{Backend: database.BackendSQLite},
		Browser:      browser.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Scheduler: SchedulerConfig{
			Reminders: scheduler.DefaultSchedule,
			Alarms:    scheduler.DefaultSchedule,
		},
		Planner: PlannerConfig{Mode: planner.ModeRules},
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if _, err := scheduler.ParseSchedule(c.Scheduler.Reminders); err != nil {
		return fmt.Errorf("scheduler.reminders: %w", err)
	}
	if _, err := scheduler.ParseSchedule(c.Scheduler.Alarms); err != nil {
		return fmt.Errorf("scheduler.alarms: %w", err)
	}
	if _, err := planner.New(c.Planner.Mode); err != nil {
		return fmt.Errorf("planner.mode: %w", err)
	}
	switch c.Database.Backend {
	case "", database.BackendSQLite, database.BackendPostgreSQL:
	default:
		return fmt.Errorf("database.backend %q is not supported", c.Database.Backend)
	}
	return nil
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
