package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// KeyFromPassphrase derives a 32-byte symmetric key from an operator
// passphrase using argon2id. The salt must be stable across restarts for
// the derived key to match previously written tokens.
func KeyFromPassphrase(passphrase string, salt []byte) []byte {
	if len(salt) == 0 {
		sum := sha256.Sum256([]byte("eplq-key-salt"))
		salt = sum[:16]
	}
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, interfaces.KeySize)
}

// RandomKey generates a fresh 32-byte key from the system CSPRNG.
func RandomKey() ([]byte, error) {
	key := make([]byte, interfaces.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}
