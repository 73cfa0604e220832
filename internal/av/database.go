package av

import (
	"context"
	"time"
)

// RecordStore provides persistent storage for version records.
// Lookups return (nil, nil) when nothing matches; soft-deleted rows are returned
// like any other row so that callers decide visibility.
type RecordStore interface {
	// InsertVersion stores a new record. It returns ErrVersionConflict when the
	// (root id, version number) pair is already taken.
	InsertVersion(ctx context.Context, rec *VersionRecord) error

	// FindByID returns a record by id, deleted or not.
	FindByID(ctx context.Context, id string) (*VersionRecord, error)

	// FindLineage returns the root and every record whose parent is the root,
	// deleted ones included, ordered by version number ascending.
	FindLineage(ctx context.Context, rootID string) ([]*VersionRecord, error)

	// MaxVersionNumber returns the highest version number ever assigned in the
	// lineage, deleted versions included. Returns 0 for an unknown lineage.
	MaxVersionNumber(ctx context.Context, rootID string) (int64, error)

	// SoftDelete marks an active record deleted at the given time.
	// Returns ErrNotFound when no active record has that id.
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// Close releases the underlying connection.
	Close() error
}
