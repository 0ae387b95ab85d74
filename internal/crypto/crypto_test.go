package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManagerRoundTrip(t *testing.T) {
	dir := t.TempDir()

	mgr, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	secret := "sk-test-abc123"
	encrypted, err := mgr.EncryptString(secret)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if encrypted == secret {
		t.Fatal("ciphertext equals plaintext")
	}

	decrypted, err := mgr.DecryptString(encrypted)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if decrypted != secret {
		t.Errorf("round trip = %q, want %q", decrypted, secret)
	}
}

func TestManagerKeyPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	encrypted, err := first.EncryptString("payload")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}

	// A second manager over the same data dir must load the same key.
	second, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager (reload): %v", err)
	}
	decrypted, err := second.DecryptString(encrypted)
	if err != nil {
		t.Fatalf("DecryptString with reloaded key: %v", err)
	}
	if decrypted != "payload" {
		t.Errorf("decrypted = %q, want payload", decrypted)
	}

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file permissions = %o, want 0600", perm)
	}
}

func TestPassphraseRoundTrip(t *testing.T) {
	plaintext := []byte(`{"gemini":"key-1","chatgpt":"key-2"}`)

	encrypted, err := EncryptWithPassphrase(plaintext, "correct horse")
	if err != nil {
		t.Fatalf("EncryptWithPassphrase: %v", err)
	}

	decrypted, err := DecryptWithPassphrase(encrypted, "correct horse")
	if err != nil {
		t.Fatalf("DecryptWithPassphrase: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("round trip mismatch: %q", decrypted)
	}

	if _, err := DecryptWithPassphrase(encrypted, "wrong"); err == nil {
		t.Error("expected failure with wrong passphrase")
	}
}

func TestDecryptTruncated(t *testing.T) {
	if _, err := DecryptWithPassphrase([]byte("short"), "p"); err == nil {
		t.Error("expected error for truncated input")
	}

	mgr, err := NewManagerWithKey(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewManagerWithKey: %v", err)
	}
	if _, err := mgr.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}
