package database

import (
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const rootVersionIndex = "idx_version_records_root_version"

// isVersionConflict reports whether err is a unique violation on
// (root_id, version_number).
func isVersionConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && (pqErr.Constraint == "" || pqErr.Constraint == rootVersionIndex)
	}
	return false
}
