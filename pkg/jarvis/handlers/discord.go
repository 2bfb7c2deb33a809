package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// discordMaxLen is Discord's per-message character limit.
const discordMaxLen = 2000

// ErrDiscordToken is returned when no bot token is configured.
var ErrDiscordToken = errors.New("discord bot token not configured")

// Discord sends messages through the Discord REST API. The client is
// created on first use; no gateway connection is opened.
type Discord struct {
	token  func() (string, error)
	logger *slog.Logger

	mu      sync.Mutex
	session *discordgo.Session
}

// NewDiscord creates a sender that resolves its bot token lazily.
func NewDiscord(token func() (string, error), logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{token: token, logger: logger.With("component", "discord")}
}

func (d *Discord) client() (*discordgo.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		return d.session, nil
	}

	token, err := d.token()
	if err != nil {
		return nil, err
	}
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bot ")
	if token == "" {
		return nil, ErrDiscordToken
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	d.session = session
	return session, nil
}

// Send posts message to channelID, split into chunks Discord accepts.
func (d *Discord) Send(ctx context.Context, channelID, message string) error {
	session, err := d.client()
	if err != nil {
		return err
	}

	for _, chunk := range splitDiscordMessage(message, discordMaxLen) {
		_, err := session.ChannelMessageSendComplex(channelID,
			&discordgo.MessageSend{Content: chunk},
			discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord: send to %s: %w", channelID, err)
		}
	}

	d.logger.Info("discord message sent", "channel", channelID, "len", len(message))
	return nil
}

// splitDiscordMessage splits a message into chunks of at most maxLen
// characters, preferring newline boundaries. Cuts never fall inside a
// multi-byte character.
func splitDiscordMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cutAt = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}
