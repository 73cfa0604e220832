package av

import (
	"context"
	"io"
)

// Vault is the asset store holding version payloads addressed by key.
// Keys are opaque to the vault; they are produced by NewAssetKey and
// DeriveVersionedKey. Payloads are never deleted through this interface.
type Vault interface {
	// PutContent stores size bytes read from r under key. Writing the same key
	// again replaces the payload.
	PutContent(ctx context.Context, key string, r io.Reader, size int64) error

	// GetContent writes the payload stored under key to w.
	GetContent(ctx context.Context, key string, w io.Writer) error

	// Location renders where a key lives in this vault, e.g. "s3://bucket/prefix/key".
	Location(key string) string

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
