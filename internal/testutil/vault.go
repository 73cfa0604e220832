package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"av-go/internal/av"
	"av-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}

// ErrVaultDown is returned by a FailingVault that has been switched off.
var ErrVaultDown = errors.New("vault down")

// FailingVault wraps a Vault and fails reads or writes on demand.
type FailingVault struct {
	av.Vault

	mu       sync.Mutex
	failPuts bool
	failGets bool
	putCalls int
}

// NewFailingVault wraps inner; it behaves like inner until told to fail.
func NewFailingVault(inner av.Vault) *FailingVault {
	return &FailingVault{Vault: inner}
}

// FailPuts makes every following PutContent return ErrVaultDown.
func (f *FailingVault) FailPuts(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPuts = fail
}

// FailGets makes every following GetContent return ErrVaultDown.
func (f *FailingVault) FailGets(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGets = fail
}

// PutCalls reports how many PutContent calls reached the wrapper.
func (f *FailingVault) PutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls
}

func (f *FailingVault) PutContent(ctx context.Context, key string, r io.Reader, size int64) error {
	f.mu.Lock()
	f.putCalls++
	fail := f.failPuts
	f.mu.Unlock()
	if fail {
		return ErrVaultDown
	}
	return f.Vault.PutContent(ctx, key, r, size)
}

func (f *FailingVault) GetContent(ctx context.Context, key string, w io.Writer) error {
	f.mu.Lock()
	fail := f.failGets
	f.mu.Unlock()
	if fail {
		return ErrVaultDown
	}
	return f.Vault.GetContent(ctx, key, w)
}
