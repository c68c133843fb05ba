// Package encryption seals catalog snapshots before they leave the machine.
package encryption

import (
	"errors"
	"io"
)

// ErrNotConfigured is returned when the key pair has not been generated yet.
var ErrNotConfigured = errors.New("encryption keys not configured")

// Encryptor seals streams with a public key. Opening needs the private key,
// which stays passphrase-protected on disk until Unlock.
type Encryptor interface {
	// Setup generates the key pair once. Existing keys are never replaced.
	Setup(passphrase string) error

	// Seal returns a writer that encrypts into w. Close flushes the final block.
	Seal(w io.Writer) (io.WriteCloser, error)

	// Unlock decrypts the private key and returns an Opener for this session.
	Unlock(passphrase string) (Opener, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// Opener decrypts streams sealed by the matching Encryptor.
type Opener interface {
	Open(r io.Reader) (io.Reader, error)
}
