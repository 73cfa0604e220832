package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"av-go/internal/av"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It is useful for testing and safe for concurrent use.
type MemoryVault struct {
	name    string
	content map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		content: make(map[string][]byte),
	}
}

// PutContent stores the payload under key, replacing any previous payload.
func (m *MemoryVault) PutContent(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[key] = data
	return nil
}

// GetContent writes the payload stored under key to w.
func (m *MemoryVault) GetContent(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	data, ok := m.content[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrContentNotFound, key)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Location renders key as memory://<name>/<key>.
func (m *MemoryVault) Location(key string) string {
	return "memory://" + m.name + "/" + key
}

// ValidateSetup always succeeds for in-memory vaults.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *MemoryVault) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.content))
	for k := range m.content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ av.Vault = (*MemoryVault)(nil)
