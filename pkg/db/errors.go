package db

import "strings"

// IsUniqueViolation reports whether the provided error references a unique
// constraint violation. An optional constraint name narrows the match to
// that constraint. The sqlite phrasing is included because repository tests
// run on in-memory sqlite.
func IsUniqueViolation(err error, constraintName ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if len(constraintName) > 0 && constraintName[0] != "" {
		return strings.Contains(msg, constraintName[0])
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
