package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileName = ".credentials.key"

	pbkdf2Iterations = 100000
	saltSize         = 32
)

// Manager handles encryption/decryption of sensitive data at rest.
type Manager struct {
	key []byte
}

// NewManager creates a manager backed by a key file under dataDir. The key
// is generated on first use and stored base64-encoded with 0600 permissions.
func NewManager(dataDir string) (*Manager, error) {
	key, err := getOrCreateKey(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}

	return &Manager{key: key}, nil
}

// NewManagerWithKey creates a manager from an existing 32-byte key.
func NewManagerWithKey(key []byte) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Manager{key: key}, nil
}

func getOrCreateKey(dataDir string) ([]byte, error) {
	keyPath := filepath.Join(dataDir, keyFileName)

	if data, err := os.ReadFile(keyPath); err == nil {
		key := make([]byte, 32)
		n, err := base64.StdEncoding.Decode(key, data)
		if err == nil && n == 32 {
			return key[:32], nil
		}
	}

	key := make([]byte, 32) // AES-256
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}

	log.Info().Str("path", keyPath).Msg("Generated new encryption key")
	return key, nil
}

// Encrypt encrypts data using AES-GCM.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	return encrypt(m.key, plaintext)
}

// Decrypt decrypts data using AES-GCM.
func (m *Manager) Decrypt(ciphertext []byte) ([]byte, error) {
	return decrypt(m.key, ciphertext)
}

// EncryptString encrypts a string and returns base64.
func (m *Manager) EncryptString(plaintext string) (string, error) {
	encrypted, err := m.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// DecryptString decrypts a base64 string.
func (m *Manager) DecryptString(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	decrypted, err := m.Decrypt(data)
	if err != nil {
		return "", err
	}

	return string(decrypted), nil
}

// EncryptWithPassphrase encrypts data with a key derived from the
// passphrase via PBKDF2. The random salt is prepended to the output.
func EncryptWithPassphrase(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	ciphertext, err := encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}

	return append(salt, ciphertext...), nil
}

// DecryptWithPassphrase reverses EncryptWithPassphrase.
func DecryptWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	salt, ciphertext := data[:saltSize], data[saltSize:]
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	return decrypt(key, ciphertext)
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
