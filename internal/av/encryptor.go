package av

import "io"

// Encryptor seals payloads before they reach the vault.
// Encryption needs only the public key; decryption needs the private key,
// unlocked with a passphrase for the duration of a session.
type Encryptor interface {
	// Setup generates and stores a key pair, sealing the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key and returns a DecryptionContext.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
