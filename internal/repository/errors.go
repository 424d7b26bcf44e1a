// Package repository holds the SQL access for reports. Sentinel errors let
// handlers tell lookup misses from replays.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when no report matches. Handlers translate it
// into HTTP 404.
var ErrNotFound = errors.New("report not found")

// ErrDuplicate is returned by Create when the order id is already stored.
// Webhook replays rely on it to stay idempotent.
var ErrDuplicate = errors.New("report already exists")

// isUniqueViolation recognises unique-key errors from every supported
// driver.
func isUniqueViolation(err error) bool {
	var (
		myErr *mysql.MySQLError
		pqErr *pq.Error
		ltErr *sqlite.Error
	)
	switch {
	case errors.As(err, &myErr):
		return myErr.Number == 1062
	case errors.As(err, &pqErr):
		return pqErr.Code == "23505"
	case errors.As(err, &ltErr):
		if ltErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || ltErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
