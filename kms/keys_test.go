package kms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, interfaces.KeySize)
}

func TestNewSimpleKeyService(t *testing.T) {
	_, err := NewSimpleKeyService([]byte("too short"))
	require.Error(t, err)

	svc, err := NewSimpleKeyService(testKey(0xAA))
	require.NoError(t, err)
	require.Equal(t, testKey(0xAA), svc.CurrentKey())
	require.Equal(t, uint64(1), svc.KeyVersion())

	// Longer material is truncated to the key size.
	long := append(testKey(0xBB), 0xCC, 0xCC)
	svc, err = NewSimpleKeyService(long)
	require.NoError(t, err)
	require.Len(t, svc.CurrentKey(), interfaces.KeySize)
	require.Equal(t, testKey(0xBB), svc.CurrentKey())
}

func TestSimpleKeyServiceRotation(t *testing.T) {
	svc, err := NewSimpleKeyService(testKey(0x01))
	require.NoError(t, err)

	require.Error(t, svc.SetKey([]byte("short")))
	require.Equal(t, uint64(1), svc.KeyVersion())

	require.NoError(t, svc.SetKey(testKey(0x02)))
	require.Equal(t, uint64(2), svc.KeyVersion())
	require.Equal(t, testKey(0x02), svc.CurrentKey())
}

// TestCurrentKeyReturnsCopy checks a caller mutating the returned slice
// cannot corrupt the service's key.
func TestCurrentKeyReturnsCopy(t *testing.T) {
	svc, err := NewSimpleKeyService(testKey(0x07))
	require.NoError(t, err)

	leaked := svc.CurrentKey()
	leaked[0] = 0xFF
	require.Equal(t, testKey(0x07), svc.CurrentKey())
}

func TestDecodeKeyMaterial(t *testing.T) {
	key := testKey(0x42)

	got, err := decodeKeyMaterial(hex.EncodeToString(key))
	require.NoError(t, err)
	require.Equal(t, key, got)

	got, err = decodeKeyMaterial(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	require.Equal(t, key, got)

	_, err = decodeKeyMaterial("deadbeef")
	require.Error(t, err)
	_, err = decodeKeyMaterial("not any encoding at all!!!")
	require.Error(t, err)
}

func TestSeedKeySource(t *testing.T) {
	ctx := context.Background()

	key, err := SeedKeySource(testKey(0x11)).FetchKey(ctx)
	require.NoError(t, err)
	require.Equal(t, testKey(0x11), key)

	_, err = SeedKeySource([]byte("short")).FetchKey(ctx)
	require.Error(t, err)
}
