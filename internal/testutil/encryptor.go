package testutil

import (
	"av-go/internal/av"
	"av-go/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() av.Encryptor {
	return encryption.NewTestEncryptor()
}
