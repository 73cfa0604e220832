package av

import "errors"

var (
	// ErrNotFound indicates a root or version id does not resolve to a visible record.
	ErrNotFound = errors.New("av: not found")
	// ErrAccessDenied indicates the requester is neither the lineage owner nor an admin.
	ErrAccessDenied = errors.New("av: access denied")
	// ErrInvalidArgument indicates malformed input.
	ErrInvalidArgument = errors.New("av: invalid argument")
	// ErrStoreUnavailable indicates the vault or the record store failed or timed out.
	ErrStoreUnavailable = errors.New("av: store unavailable")
	// ErrConflictRetryExhausted indicates the version-number race was still lost after
	// the configured number of attempts.
	ErrConflictRetryExhausted = errors.New("av: version conflict retries exhausted")

	// ErrVersionConflict is returned by a RecordStore when an insert collides with an
	// existing (root id, version number) pair.
	ErrVersionConflict = errors.New("av: version number already taken")
)

// IsRetryable reports whether the caller may retry the failed operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConflictRetryExhausted)
}
