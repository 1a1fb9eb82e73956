package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/phrazzld/recall/internal/store"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MapError maps a database error to an appropriate store error, wrapping the
// original so the SQLite result code stays available for debugging.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	code, ok := resultCode(err)
	if !ok {
		return err
	}

	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	case sqlite3.SQLITE_CONSTRAINT:
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		default:
			return fmt.Errorf("%w: constraint violation: %v", store.ErrInvalidEntity, err)
		}
	}

	return err
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED (including
// extended codes).
func IsBusy(err error) bool {
	code, ok := resultCode(err)
	if !ok {
		return false
	}
	primary := code & 0xff
	return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
}

func resultCode(err error) (int, bool) {
	var sqErr *msqlite.Error
	if !errors.As(err, &sqErr) {
		return 0, false
	}
	return sqErr.Code(), true
}
