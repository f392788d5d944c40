package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/studybot-it/studybot/instrumentation"
	"github.com/studybot-it/studybot/providers"
)

// Compile-time check that Client implements the providers.PrimaryClient interface.
var _ providers.PrimaryClient = (*Client)(nil)

// DefaultBaseURL is the Discord REST API base.
const DefaultBaseURL = "https://discord.com/api"

// defaultScopes are requested when no custom scopes are configured.
var defaultScopes = []string{"identify"}

// Config holds Discord OAuth configuration.
type Config struct {
	// ClientID is the Discord application client ID.
	ClientID string

	// ClientSecret is the Discord application client secret.
	ClientSecret string

	// RedirectURL is the OAuth callback URL.
	RedirectURL string

	// BotToken authenticates bot-level calls (DM channel creation, message
	// sending). Optional; without it the welcome-message helpers fail.
	BotToken string

	// Scopes are optional custom scopes (defaults to ["identify"]).
	Scopes []string

	// BaseURL overrides the Discord API base URL. Used in tests.
	BaseURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for Discord API calls (default: 30s).
	RequestTimeout time.Duration
}

// Client implements the providers.PrimaryClient interface for Discord OAuth.
// It is stateless; construct one during process initialization and share it.
type Client struct {
	oauth          *oauth2.Config
	baseURL        string
	botToken       string
	httpClient     *http.Client
	requestTimeout time.Duration
	metrics        *instrumentation.Metrics
}

// New creates a new Discord client.
func New(cfg *Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopesCopy,
			Endpoint: oauth2.Endpoint{
				AuthURL:   baseURL + "/oauth2/authorize",
				TokenURL:  baseURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		baseURL:        baseURL,
		botToken:       cfg.BotToken,
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
	}, nil
}

// SetInstrumentation sets OpenTelemetry instrumentation for the client.
func (c *Client) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.metrics = inst.Metrics()
}

// record emits provider call metrics when instrumentation is configured.
func (c *Client) record(ctx context.Context, op string, err error, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordProviderCall(ctx, "discord", op, err, start)
	}
}

// AuthorizationURL generates the URL to redirect users to for authorization.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ensureContextTimeout ensures the context has a deadline, adding one if needed.
// Returns a new context with timeout and a cancel function that should be deferred.
func (c *Client) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// ExchangeCode exchanges an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (_ *providers.Token, err error) {
	start := time.Now()
	defer func() { c.record(ctx, "exchange_code", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classifyTokenError("exchange code", err)
	}

	return fromOAuth2Token(tok), nil
}

// Refresh exchanges a refresh token for a new token pair. Discord rotates
// refresh tokens, so the response carries a replacement.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (_ *providers.Token, err error) {
	start := time.Now()
	defer func() { c.record(ctx, "refresh_token", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError("refresh token", err)
	}

	return fromOAuth2Token(tok), nil
}

// FetchProfile fetches the identity behind an access token via /users/@me.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (_ *providers.Profile, err error) {
	start := time.Now()
	defer func() { c.record(ctx, "fetch_profile", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: profile request rejected", providers.ErrUnauthorized)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: profile request failed with status %d", providers.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("profile request failed with status %d", resp.StatusCode)
	}

	var user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	return &providers.Profile{
		ID:       user.ID,
		Username: user.Username,
	}, nil
}

// HealthCheck verifies that the Discord API is reachable. The gateway
// endpoint responds without authentication.
func (c *Client) HealthCheck(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.record(ctx, "health_check", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gateway", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord health check failed with status %d", resp.StatusCode)
	}

	return nil
}

// fromOAuth2Token converts an oauth2.Token into the library's token type.
func fromOAuth2Token(tok *oauth2.Token) *providers.Token {
	return &providers.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}

// classifyTokenError maps oauth2 token-endpoint failures onto the provider
// error taxonomy. A 4xx from the token endpoint means the grant was rejected;
// transport errors and 5xx responses are transient.
func classifyTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return fmt.Errorf("failed to %s: %w: status %d", op, providers.ErrProviderUnavailable, retrieveErr.Response.StatusCode)
		}
		return fmt.Errorf("failed to %s: %w: %s", op, providers.ErrInvalidGrant, retrieveErr.ErrorCode)
	}
	return fmt.Errorf("failed to %s: %w: %v", op, providers.ErrProviderUnavailable, err)
}
