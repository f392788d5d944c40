// Package storage provides interfaces and types for user account persistence.
//
// The storage package defines the core UserStore interface used throughout the
// studybot library, along with the aggregate types it persists:
//   - UserAccount: the per-user aggregate root, keyed by external chat identity
//   - TokenPair / SecondaryAuth: OAuth credentials for the two linked providers
//   - TodoItem / StudyTimerConfig: productivity state embedded in the aggregate
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/sqlite: Embedded SQLite storage for single-instance deployments
package storage
