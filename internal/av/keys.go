package av

import (
	"fmt"
	"path"
	"strings"
)

const assetKeyPrefix = "assets"

// NewAssetKey returns the vault key for the original payload of an asset:
// assets/<assetID>/<filename>. The filename is reduced to a safe base name.
func NewAssetKey(assetID, filename string) string {
	return path.Join(assetKeyPrefix, assetID, sanitizeFilename(filename))
}

// DeriveVersionedKey derives the key for version n from the lineage's original key
// by tagging the base name: assets/a1/photo.jpg -> assets/a1/photo.v2.<nonce>.jpg.
// The nonce keeps keys unique when two writers race for the same version number;
// with an empty nonce the tag is just .v<n>.
func DeriveVersionedKey(existingKey string, versionNumber int64, nonce string) string {
	dir, base := path.Split(existingKey)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)

	tag := fmt.Sprintf("v%d", versionNumber)
	if nonce != "" {
		tag += "." + sanitizeFilename(nonce)
	}
	return dir + name + "." + tag + ext
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "original"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "original"
	}
	return out
}
