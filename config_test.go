package studybot

import (
	"log/slog"
	"testing"
	"time"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.ExpiryMargin != DefaultExpiryMargin {
		t.Errorf("ExpiryMargin = %v, want %v", cfg.ExpiryMargin, DefaultExpiryMargin)
	}
	if cfg.WelcomeTimeout != defaultWelcomeTimeout {
		t.Errorf("WelcomeTimeout = %v, want %v", cfg.WelcomeTimeout, defaultWelcomeTimeout)
	}
	if cfg.Logger == nil {
		t.Error("Logger = nil, want default logger")
	}
}

func TestConfig_WithDefaults_KeepsExplicitValues(t *testing.T) {
	logger := slog.Default().With("component", "test")
	cfg := Config{
		ExpiryMargin:   2 * time.Minute,
		WelcomeTimeout: time.Second,
		Logger:         logger,
	}.withDefaults()

	if cfg.ExpiryMargin != 2*time.Minute {
		t.Errorf("ExpiryMargin = %v, want 2m", cfg.ExpiryMargin)
	}
	if cfg.WelcomeTimeout != time.Second {
		t.Errorf("WelcomeTimeout = %v, want 1s", cfg.WelcomeTimeout)
	}
	if cfg.Logger != logger {
		t.Error("Logger was replaced, want the provided one kept")
	}
}

func TestConfig_WithDefaults_NegativeDurations(t *testing.T) {
	cfg := Config{ExpiryMargin: -time.Second, WelcomeTimeout: -time.Second}.withDefaults()

	if cfg.ExpiryMargin != DefaultExpiryMargin {
		t.Errorf("ExpiryMargin = %v, want default for negative input", cfg.ExpiryMargin)
	}
	if cfg.WelcomeTimeout != defaultWelcomeTimeout {
		t.Errorf("WelcomeTimeout = %v, want default for negative input", cfg.WelcomeTimeout)
	}
}
