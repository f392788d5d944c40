package studybot

import "errors"

// Errors surfaced by the Service. Storage and provider errors pass through
// from their own packages; these two exist only at the coordination layer.
var (
	// ErrNotConnected indicates the account never linked the secondary
	// provider. The user must run the authorization-code flow first; this is
	// a user-facing state, not a fault to retry.
	ErrNotConnected = errors.New("secondary provider not connected")

	// ErrReauthorizationRequired indicates the stored refresh token is dead.
	// The stored token pair is left untouched so a fresh authorization-code
	// exchange can repopulate it.
	ErrReauthorizationRequired = errors.New("reauthorization required")
)
