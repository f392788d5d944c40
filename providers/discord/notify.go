package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/studybot-it/studybot/providers"
)

// welcomeColor is the green used for the studybot welcome embed.
const welcomeColor = 0x3ba55d

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type buttonEmoji struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

type component struct {
	Type       int          `json:"type"`
	Style      int          `json:"style,omitempty"`
	Label      string       `json:"label,omitempty"`
	URL        string       `json:"url,omitempty"`
	Disabled   bool         `json:"disabled,omitempty"`
	Emoji      *buttonEmoji `json:"emoji,omitempty"`
	Components []component  `json:"components,omitempty"`
}

type message struct {
	Embeds     []embed     `json:"embeds"`
	Components []component `json:"components,omitempty"`
}

// CreateDM opens (or reuses) the direct-message channel with a user and
// returns its channel ID. Requires a configured bot token.
func (c *Client) CreateDM(ctx context.Context, userID string) (_ string, err error) {
	if c.botToken == "" {
		return "", fmt.Errorf("bot token is not configured")
	}

	start := time.Now()
	defer func() { c.record(ctx, "create_dm", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]string{"recipient_id": userID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/@me/channels", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dm channel request failed with status %d", resp.StatusCode)
	}

	var channel struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&channel); err != nil {
		return "", fmt.Errorf("failed to decode dm channel: %w", err)
	}

	return channel.ID, nil
}

// SendWelcomeMessage posts the studybot welcome embed into a channel.
// Requires a configured bot token.
func (c *Client) SendWelcomeMessage(ctx context.Context, channelID string) (err error) {
	if c.botToken == "" {
		return fmt.Errorf("bot token is not configured")
	}

	start := time.Now()
	defer func() { c.record(ctx, "send_message", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	msg := message{
		Embeds: []embed{{
			Title:       "Welcome to studybot",
			Description: "With studybot you can manage your productivity on Discord!\nFor more information visit [studybot.it](https://studybot.it).\nIf you connect your Digital Register you can even see your marks and much more.",
			Color:       welcomeColor,
		}},
		Components: []component{{
			Type: 1,
			Components: []component{{
				Type:     2,
				Style:    5,
				Label:    "Join the Server",
				URL:      "https://discord.gg/63xeAnNpq3",
				Disabled: false,
				Emoji:    &buttonEmoji{Name: "🧠"},
			}},
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/channels/"+channelID+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", providers.ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("message send failed with status %d", resp.StatusCode)
	}

	return nil
}
