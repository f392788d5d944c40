// Package digreg implements the secondary provider client for the digital
// school register (digitalesregister.it).
//
// The register uses a header-based dialect rather than standard OAuth2:
// API-CLIENT-ID on every request, API-SECRET on the token endpoints, and a
// per-user API-TOKEN on data endpoints. Refresh responses are partial: they
// omit the refresh token and user ID, which callers must retain from the
// prior exchange.
//
// Grades and lesson payloads are passed through as raw JSON; their shapes
// are owned by the register.
package digreg
