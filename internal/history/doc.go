// Package history keeps a SQLite log of pipeline invocations and the outcome
// of every workflow they visited.
//
// The database lives at cache/history.db. It is diagnostic only: staleness
// decisions never read it, and deleting it loses nothing but the log.
// Schema changes bump schemaVersion in schema.go; an older database must be
// deleted to adopt the new schema.
package history
