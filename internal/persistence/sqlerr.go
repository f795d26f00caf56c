package persistence

import "strings"

// isUniqueViolation detects primary-key conflicts across the SQL
// drivers in use. modernc.org/sqlite reports "UNIQUE constraint
// failed"; PostgreSQL uses SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value")
}
