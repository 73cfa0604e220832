package vault

import (
	"errors"
	"fmt"
	"strings"
)

// ErrContentNotFound is returned by GetContent when no payload is stored under the key.
var ErrContentNotFound = errors.New("content not found")

// validateKey rejects keys that could escape a vault's root once mapped onto a
// filesystem path or an object prefix.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty vault key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("invalid vault key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid vault key %q", key)
		}
	}
	return nil
}
