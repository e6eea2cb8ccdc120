// Package kms provides the symmetric key service for the token codec.
//
// The active key is explicit, injected state: constructing a service
// requires key material, and rotation goes through SetKey under the query
// engine's exclusivity gate. Nothing in this package is process-global.
package kms

import (
	"errors"
	"sync"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// SimpleKeyService holds the active symmetric key in memory. Suitable for
// single-process deployments and tests; production deployments seed it from
// a KeySource such as Vault at startup.
type SimpleKeyService struct {
	mu      sync.RWMutex
	key     []byte
	version uint64
}

// NewSimpleKeyService creates a key service with the provided master key.
// The key must be at least interfaces.KeySize bytes; longer material is
// truncated to the key size.
func NewSimpleKeyService(masterKey []byte) (*SimpleKeyService, error) {
	if len(masterKey) < interfaces.KeySize {
		return nil, errors.New("master key must be at least 32 bytes")
	}

	key := make([]byte, interfaces.KeySize)
	copy(key, masterKey)
	return &SimpleKeyService{key: key, version: 1}, nil
}

// CurrentKey returns a copy of the active key.
func (s *SimpleKeyService) CurrentKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := make([]byte, len(s.key))
	copy(key, s.key)
	return key
}

// KeyVersion returns the rotation counter, starting at 1.
func (s *SimpleKeyService) KeyVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetKey atomically installs a new key and bumps the version. Tokens
// produced under the previous key stop decrypting; the caller is expected
// to re-encrypt persisted ciphertext as part of the same rotation pass.
func (s *SimpleKeyService) SetKey(key []byte) error {
	if len(key) < interfaces.KeySize {
		return errors.New("key must be at least 32 bytes")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.key = make([]byte, interfaces.KeySize)
	copy(s.key, key)
	s.version++
	return nil
}
