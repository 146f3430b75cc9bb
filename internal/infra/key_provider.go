package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFileName = ".key"
	keySize     = 32 // 256-bit SQLCipher key
)

// KeyProvider manages the encryption key for the state database. The key
// is generated once and stored in a hidden file with 0600 permissions
// next to the database.
type KeyProvider struct {
	keyPath string
}

// NewKeyProvider creates a KeyProvider for the given data directory.
func NewKeyProvider(dataDir string) *KeyProvider {
	return &KeyProvider{keyPath: filepath.Join(dataDir, keyFileName)}
}

// EnsureKey returns the stored key, generating and persisting a fresh one
// on first use.
func (p *KeyProvider) EnsureKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err == nil {
		key, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to decode key: %w", err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	data := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(p.keyPath, []byte(data), 0600); err != nil {
		return nil, fmt.Errorf("failed to store key: %w", err)
	}
	return key, nil
}
