// Package discord implements the primary provider client for Discord OAuth2.
//
// The client wraps golang.org/x/oauth2 for the code-exchange and refresh
// flows and talks to the Discord REST API directly for profile lookups and
// bot-level direct messages (the fire-and-forget welcome message sent when
// an account is created).
package discord
