// Package archive is the encrypted local vault for audit snapshots and
// generated artifacts, backed by a SQLCipher database under the data
// directory.
package archive

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rampartlabs/rampart/internal/domain"
)

const (
	keyFileName = "archive.key"
	keySize     = 32 // 256-bit SQLCipher key
)

// FileKey implements domain.KeyProvider with a hex-encoded key file
// next to the archive. Phase 1: local file with 0600 permissions.
// Phase 2: replaced by a backend-escrowed provider.
type FileKey struct {
	path string
}

// NewFileKey creates a key provider rooted at dataDir.
func NewFileKey(dataDir string) *FileKey {
	return &FileKey{path: filepath.Join(dataDir, keyFileName)}
}

// GetKey reads and decodes the stored key.
func (p *FileKey) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key is %d bytes, want %d", len(key), keySize)
	}
	return key, nil
}

// StoreKey writes the key with owner-only permissions.
func (p *FileKey) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("key is %d bytes, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// KeyExists checks whether a key has been generated.
func (p *FileKey) KeyExists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the stored key, generating and persisting one on
// first run.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure FileKey implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKey)(nil)
