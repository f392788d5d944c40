package providers

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all provider clients. Clients wrap these with
// endpoint context; callers classify with errors.Is.
var (
	// ErrInvalidGrant indicates the authorization code or refresh token was
	// rejected by the provider. For a refresh token this is terminal: the
	// user must re-run the authorization-code flow.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrProviderUnavailable indicates a transport failure, timeout, or 5xx
	// response. Safe to retry with backoff at a layer above this library.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrUnauthorized indicates an access token was rejected outside the
	// normal expiry path.
	ErrUnauthorized = errors.New("unauthorized")
)

// Token is a token pair as returned by a provider. Refresh responses may be
// partial: an empty RefreshToken or zero ProviderUserID means the provider
// omitted the field and the previously stored value must be retained.
type Token struct {
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	ProviderUserID int64
}

// Profile is the minimal identity information fetched from a provider.
// It is used only to bootstrap a new account, not during token refresh.
type Profile struct {
	// ID is the provider's unique user identifier. Discord IDs are snowflake
	// strings; digreg IDs are numeric and rendered in decimal.
	ID string

	// Username is the user's display name at the provider.
	Username string
}

// PrimaryClient is the client for the chat-platform identity provider.
// Implementations are stateless: outbound network calls only, no local
// state retained between calls.
type PrimaryClient interface {
	// ExchangeCode exchanges a one-time authorization code for a token pair.
	ExchangeCode(ctx context.Context, code string) (*Token, error)

	// Refresh exchanges a refresh token for a new token pair. The provider
	// rotates refresh tokens, so the response normally carries a new one.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// FetchProfile fetches the identity behind an access token.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// SecondaryClient is the client for the school-records provider.
type SecondaryClient interface {
	// ExchangeCode exchanges a one-time authorization code for a token pair
	// including the provider-side numeric user ID.
	ExchangeCode(ctx context.Context, code string) (*Token, error)

	// Refresh exchanges a refresh token for a new access token. The response
	// may omit the refresh token and user ID; omission means "unchanged".
	// priorUserID is the stored provider-side user ID, which the provider
	// requires alongside the refresh token.
	Refresh(ctx context.Context, refreshToken string, priorUserID int64) (*Token, error)

	// FetchProfile fetches the identity behind an access token.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}
