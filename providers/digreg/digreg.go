package digreg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/studybot-it/studybot/instrumentation"
	"github.com/studybot-it/studybot/providers"
)

// Compile-time check that Client implements the providers.SecondaryClient interface.
var _ providers.SecondaryClient = (*Client)(nil)

// DefaultBaseURL is the digital register API base for the tfobz tenant.
const DefaultBaseURL = "https://tfobz.digitalesregister.it/v2/api/v1"

// Request headers used by the digreg API dialect.
const (
	headerClientID = "API-CLIENT-ID"
	headerSecret   = "API-SECRET"
	headerToken    = "API-TOKEN"
)

// Config holds digreg client configuration.
type Config struct {
	// ClientID is sent on every request via the API-CLIENT-ID header.
	ClientID string

	// ClientSecret authenticates the token endpoints via the API-SECRET header.
	ClientSecret string

	// BaseURL overrides the API base URL. Used in tests.
	BaseURL string

	// RequestsPerSecond caps outbound calls to the register API.
	// Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the maximum burst size when rate limiting is enabled
	// (default: 1 when RequestsPerSecond > 0).
	Burst int

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for register API calls (default: 30s).
	RequestTimeout time.Duration
}

// Client implements the providers.SecondaryClient interface for the digital
// school register. It is stateless; construct one during process
// initialization and share it.
type Client struct {
	clientID       string
	clientSecret   string
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	limiter        *rate.Limiter
	metrics        *instrumentation.Metrics
}

// New creates a new digreg client.
func New(cfg *Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

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

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		baseURL:        baseURL,
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
		limiter:        limiter,
	}, nil
}

// SetInstrumentation sets OpenTelemetry instrumentation for the client.
func (c *Client) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.metrics = inst.Metrics()
}

// record emits provider call metrics when instrumentation is configured.
func (c *Client) record(ctx context.Context, op string, err error, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordProviderCall(ctx, "digreg", op, err, start)
	}
}

// ensureContextTimeout ensures the context has a deadline, adding one if needed.
// Returns a new context with timeout and a cancel function that should be deferred.
func (c *Client) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// do applies the outbound rate limit, sets the common headers, and executes
// the request. Transport failures map to ErrProviderUnavailable.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("%w: %v", providers.ErrProviderUnavailable, err)
		}
	}

	req.Header.Set(headerClientID, c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrProviderUnavailable, err)
	}
	return resp, nil
}

// tokenResponse is the shape returned by both token endpoints. Refresh
// responses carry only token and expiration.
type tokenResponse struct {
	UserID       int64  `json:"user_id"`
	Token        string `json:"token"`
	Expiration   string `json:"expiration"`
	RefreshToken string `json:"refresh_token"`
}

func (r *tokenResponse) toToken() (*providers.Token, error) {
	expiresAt, err := parseExpiration(r.Expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token expiration: %w", err)
	}
	return &providers.Token{
		AccessToken:    r.Token,
		RefreshToken:   r.RefreshToken,
		ExpiresAt:      expiresAt,
		ProviderUserID: r.UserID,
	}, nil
}

// registerLocation is the zone the register reports zone-less timestamps in
// (the tfobz tenant is in South Tyrol). UTC fallback when no tzdata is
// available on the host.
var registerLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// parseExpiration accepts the register's timestamp formats: RFC 3339 or a
// zone-less local date-time, which is interpreted in the register's zone.
func parseExpiration(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", s, registerLocation)
}

// ExchangeCode exchanges a one-time authorization code for a token pair.
// The response includes the register-side numeric user ID.
func (c *Client) ExchangeCode(ctx context.Context, code string) (_ *providers.Token, err error) {
	start := time.Now()
	defer func() { c.record(ctx, "exchange_code", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	var out tokenResponse
	if err := c.postToken(ctx, "/token", map[string]any{"code": code}, &out); err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return out.toToken()
}

// Refresh exchanges a refresh token for a new access token. The register
// omits refresh_token and user_id from the response: the caller must retain
// the previously stored values.
func (c *Client) Refresh(ctx context.Context, refreshToken string, priorUserID int64) (_ *providers.Token, err error) {
	start := time.Now()
	defer func() { c.record(ctx, "refresh_token", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	body := map[string]any{
		"user_id":       priorUserID,
		"refresh_token": refreshToken,
	}

	var out tokenResponse
	if err := c.postToken(ctx, "/refresh_token", body, &out); err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return out.toToken()
}

// postToken performs a token-endpoint POST with the API-SECRET header and
// maps 4xx responses to ErrInvalidGrant.
func (c *Client) postToken(ctx context.Context, path string, body map[string]any, out *tokenResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerSecret, c.clientSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", providers.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", providers.ErrInvalidGrant, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	return nil
}

// get performs an authenticated GET with the per-user API-TOKEN header.
func (c *Client) get(ctx context.Context, path, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerToken, accessToken)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", providers.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", providers.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// FetchProfile fetches the register identity behind an access token.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (_ *providers.Profile, err error) {
	start := time.Now()
	defer func() { c.record(ctx, "fetch_profile", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	data, err := c.get(ctx, "/user/me", accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	var user struct {
		ID        int64  `json:"id"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	return &providers.Profile{
		ID:       strconv.FormatInt(user.ID, 10),
		Username: user.FirstName + " " + user.LastName,
	}, nil
}

// Grades fetches the user's grades. The payload is passed through opaquely;
// its shape belongs to the register, not to this library.
func (c *Client) Grades(ctx context.Context, accessToken string) (_ json.RawMessage, err error) {
	start := time.Now()
	defer func() { c.record(ctx, "grades", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	data, err := c.get(ctx, "/grade/my_grades", accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch grades: %w", err)
	}
	return json.RawMessage(data), nil
}

// UpcomingLessons fetches the user's lesson calendar. Opaque passthrough,
// like Grades.
func (c *Client) UpcomingLessons(ctx context.Context, accessToken string) (_ json.RawMessage, err error) {
	start := time.Now()
	defer func() { c.record(ctx, "lessons", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	data, err := c.get(ctx, "/lesson/my_lessons", accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lessons: %w", err)
	}
	return json.RawMessage(data), nil
}

// HealthCheck verifies that the register API is reachable. Any HTTP response
// below 500 counts as healthy; the request carries no user credentials.
func (c *Client) HealthCheck(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.record(ctx, "health_check", err, start) }()

	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/me", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("register api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("register health check failed with status %d", resp.StatusCode)
	}

	return nil
}
