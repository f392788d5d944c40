// Package providers defines the provider client interfaces and shared types.
//
// This package contains the PrimaryClient and SecondaryClient interfaces that
// must be implemented by identity provider clients, the Token type carrying
// (possibly partial) token pairs, and the sentinel errors of the provider
// error taxonomy.
//
// Implementations are provided in subpackages:
//   - providers/discord: Discord OAuth2 client (primary provider)
//   - providers/digreg: digital school register client (secondary provider)
//
// Provider implementations handle:
//   - Authorization code exchange
//   - Token refresh, including provider-dependent partial responses
//   - Profile retrieval for account bootstrap
//   - Health checks
//
// Clients hold no per-request mutable state: construct each one once during
// process initialization and pass it to the studybot Service.
package providers
