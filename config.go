package studybot

import (
	"log/slog"
	"time"
)

// DefaultExpiryMargin is the safety margin applied to token expiry checks.
// A token expiring within the margin is treated as already expired so a call
// made with it cannot race the provider's own clock.
const DefaultExpiryMargin = 30 * time.Second

// defaultWelcomeTimeout bounds the fire-and-forget welcome message dispatch.
const defaultWelcomeTimeout = 10 * time.Second

// Config holds the Service configuration.
type Config struct {
	// ExpiryMargin is the safety margin for token staleness decisions.
	// Default: DefaultExpiryMargin.
	ExpiryMargin time.Duration

	// WelcomeTimeout bounds the asynchronous welcome message sent after
	// account creation. Default: 10s.
	WelcomeTimeout time.Duration

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger
}

// withDefaults returns a copy of the config with zero values filled in.
func (c Config) withDefaults() Config {
	if c.ExpiryMargin <= 0 {
		c.ExpiryMargin = DefaultExpiryMargin
	}
	if c.WelcomeTimeout <= 0 {
		c.WelcomeTimeout = defaultWelcomeTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
