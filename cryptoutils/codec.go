// Package cryptoutils implements the symmetric token codec used for POI
// payloads and query predicates, plus key derivation helpers.
//
// Tokens are AES-256-GCM with a fresh random nonce per call, encoded as
// "<ivHex>:<ciphertextHex>". Authenticated encryption means a tampered or
// wrong-key token fails to open rather than decrypting to garbage; callers
// in scanning loops convert that failure to "no match".
package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// nonceSize is the standard 12-byte GCM nonce.
const nonceSize = 12

// Codec encrypts and decrypts opaque byte payloads under the key service's
// current key. The key is resolved per call so a rotation takes effect
// immediately for every holder of the codec.
type Codec struct {
	keys interfaces.KeyService
}

// NewCodec creates a codec bound to the given key service.
func NewCodec(keys interfaces.KeyService) *Codec {
	return &Codec{keys: keys}
}

// Encrypt seals plaintext under the current key with a fresh nonce and
// returns the wire token. Two calls on identical plaintext produce
// different tokens.
func (c *Codec) Encrypt(plaintext []byte) (interfaces.EncryptedToken, error) {
	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	token := hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext)
	return interfaces.EncryptedToken(token), nil
}

// Decrypt splits a token into nonce and ciphertext and opens it. Every
// failure mode, malformed token or wrong key alike, comes back wrapping
// interfaces.ErrDecryptionFailed; Decrypt never panics into a caller.
func (c *Codec) Decrypt(token interfaces.EncryptedToken) ([]byte, error) {
	parts := strings.SplitN(string(token), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: token missing ':' delimiter", interfaces.ErrDecryptionFailed)
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed IV hex: %v", interfaces.ErrDecryptionFailed, err)
	}
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes, got %d", interfaces.ErrDecryptionFailed, nonceSize, len(nonce))
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext hex: %v", interfaces.ErrDecryptionFailed, err)
	}

	aead, err := c.aead()
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func (c *Codec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.keys.CurrentKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
