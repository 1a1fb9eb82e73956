// Package sqlite provides the embedded SQLite dialect for the task store.
//
// Databases are opened in WAL mode so readers never block the single writer,
// and with a busy timeout so a contended write waits instead of failing
// immediately. Errors that still surface as SQLITE_BUSY or SQLITE_LOCKED are
// mapped to store.ErrTransient for the retry policy to absorb.
package sqlite
