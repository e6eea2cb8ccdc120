package kms

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// VaultKeySource fetches the master key from a HashiCorp Vault KV v2 secret.
// The secret is expected to hold the key hex- or base64-encoded under the
// "master_key" field.
type VaultKeySource struct {
	client    *api.Client
	mountPath string
	dataPath  string
}

// NewVaultKeySource creates a key source reading from the given Vault
// address and KV v2 path, authenticating with the provided token.
func NewVaultKeySource(address, token, mountPath, dataPath string) (*VaultKeySource, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 15 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultKeySource{
		client:    client,
		mountPath: strings.TrimSuffix(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
	}, nil
}

// FetchKey reads the master key material from Vault.
func (v *VaultKeySource) FetchKey(ctx context.Context) ([]byte, error) {
	path := fmt.Sprintf("%s/data/%s", v.mountPath, v.dataPath)

	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret at vault path %s", path)
	}

	// KV v2 wraps the payload in a "data" map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at vault path %s", path)
	}

	raw, ok := data["master_key"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("missing master_key field at vault path %s", path)
	}

	return decodeKeyMaterial(raw)
}

// decodeKeyMaterial accepts hex or base64 encoded key material.
func decodeKeyMaterial(raw string) ([]byte, error) {
	if key, err := hex.DecodeString(raw); err == nil && len(key) >= interfaces.KeySize {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) >= interfaces.KeySize {
		return key, nil
	}
	return nil, fmt.Errorf("key material must be at least %d bytes, hex or base64 encoded", interfaces.KeySize)
}

// SeedKeySource returns a fixed key, used by tests and the dev CLI path.
type SeedKeySource []byte

// FetchKey returns the seed.
func (s SeedKeySource) FetchKey(ctx context.Context) ([]byte, error) {
	if len(s) < interfaces.KeySize {
		return nil, fmt.Errorf("seed must be at least %d bytes", interfaces.KeySize)
	}
	return []byte(s), nil
}
