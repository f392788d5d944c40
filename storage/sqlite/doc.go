// Package sqlite provides a durable UserStore implementation backed by an
// embedded SQLite database (modernc.org/sqlite, pure Go, no cgo).
//
// Field-group updates run as single statements, so the atomicity the
// coordinator relies on (a refreshed access token never paired with a stale
// expiry) holds without explicit locking. Todo items live in a child table
// ordered by a position column.
//
// Example usage:
//
//	store, err := sqlite.Open(ctx, "/var/lib/studybot/studybot.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
package sqlite
