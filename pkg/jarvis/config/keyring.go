package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "jarvis"

	// KeyDiscordToken is the keyring entry of the Discord bot token.
	KeyDiscordToken = "discord_token"
)

// ErrNoSecret is returned when a secret is found nowhere.
var ErrNoSecret = errors.New("secret not configured")

// StoreSecret saves a secret to the OS keyring.
func StoreSecret(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetSecret reads a secret from the OS keyring. Returns "" if absent.
func GetSecret(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__jarvis_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveDiscordToken looks the bot token up in the environment, then the
// OS keyring, then the config value.
func (c *Config) ResolveDiscordToken() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvDiscordToken)); v != "" {
		return v, nil
	}
	if v := GetSecret(KeyDiscordToken); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(c.Discord.Token); v != "" && !IsEnvReference(v) {
		return v, nil
	}
	return "", fmt.Errorf("discord token: %w (set %s or run jarvis setup)", ErrNoSecret, EnvDiscordToken)
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
