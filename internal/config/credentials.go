package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/citewatch/citewatch/internal/crypto"
	"github.com/citewatch/citewatch/internal/models"
)

// credentialsFile is the plaintext layout of the encrypted provider
// credentials file.
type credentialsFile struct {
	Providers map[string]providerCredential `json:"providers"`
}

type providerCredential struct {
	APIKey     string `json:"apiKey"`
	BaseURL    string `json:"baseUrl,omitempty"`
	Model      string `json:"model,omitempty"`
	RatePerMin int    `json:"ratePerMin,omitempty"`
}

// loadCredentialsFile decrypts and parses the credentials file. An empty
// path means no file is configured. With a passphrase the key is derived
// via PBKDF2; otherwise the data-dir key file is used.
func loadCredentialsFile(path, passphrase, dataDir string) (map[models.Platform]ProviderConfig, error) {
	out := make(map[models.Platform]ProviderConfig)
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	plaintext, err := decryptCredentials(data, passphrase, dataDir)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", path, err)
	}

	var file credentialsFile
	if err := json.Unmarshal(plaintext, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for name, cred := range file.Providers {
		if !models.IsValidPlatform(name) {
			return nil, fmt.Errorf("unknown provider %q in %s", name, path)
		}
		out[models.Platform(name)] = ProviderConfig{
			APIKey:     cred.APIKey,
			BaseURL:    cred.BaseURL,
			Model:      cred.Model,
			RatePerMin: cred.RatePerMin,
		}
	}

	return out, nil
}

// SaveCredentialsFile encrypts the provider credentials and writes them to
// path with owner-only permissions. Used by the credentials CLI command.
func SaveCredentialsFile(path string, providers map[models.Platform]ProviderConfig, passphrase, dataDir string) error {
	file := credentialsFile{Providers: make(map[string]providerCredential, len(providers))}
	for platform, pc := range providers {
		file.Providers[string(platform)] = providerCredential{
			APIKey:     pc.APIKey,
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			RatePerMin: pc.RatePerMin,
		}
	}

	plaintext, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	ciphertext, err := encryptCredentials(plaintext, passphrase, dataDir)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	if err := os.WriteFile(path, ciphertext, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func encryptCredentials(plaintext []byte, passphrase, dataDir string) ([]byte, error) {
	if passphrase != "" {
		return crypto.EncryptWithPassphrase(plaintext, passphrase)
	}
	mgr, err := crypto.NewManager(dataDir)
	if err != nil {
		return nil, err
	}
	return mgr.Encrypt(plaintext)
}

func decryptCredentials(data []byte, passphrase, dataDir string) ([]byte, error) {
	if passphrase != "" {
		return crypto.DecryptWithPassphrase(data, passphrase)
	}
	mgr, err := crypto.NewManager(dataDir)
	if err != nil {
		return nil, err
	}
	return mgr.Decrypt(data)
}
