// Package memory provides an in-memory implementation of the UserStore interface.
//
// This package implements storage.UserStore using Go's built-in maps with
// mutex protection for thread safety. It is suitable for development,
// testing, and single-instance deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Deep copies on read and write so callers never alias stored state
//   - OpenTelemetry storage metrics via SetInstrumentation
//
// For deployments requiring persistence, use the storage/sqlite package instead.
//
// Example usage:
//
//	store := memory.New()
//	svc, _ := studybot.New(cfg, store, discordClient, digregClient)
package memory
