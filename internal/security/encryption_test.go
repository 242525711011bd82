package security

import (
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	te := NewTokenEncryptor(t.TempDir())

	token := "arl-3c9f2e8b7a1d"
	encrypted, err := te.EncryptToken(token)
	if err != nil {
		t.Fatalf("EncryptToken failed: %v", err)
	}
	if encrypted == token {
		t.Error("Encrypted token equals plaintext")
	}

	decrypted, err := te.DecryptToken(encrypted)
	if err != nil {
		t.Fatalf("DecryptToken failed: %v", err)
	}
	if decrypted != token {
		t.Errorf("Expected %q, got %q", token, decrypted)
	}
}

func TestEncryptEmptyToken(t *testing.T) {
	te := NewTokenEncryptor(t.TempDir())

	if _, err := te.EncryptToken(""); err == nil {
		t.Error("Expected error for empty token")
	}
}

func TestDecryptWithDifferentKeyFails(t *testing.T) {
	te1 := NewTokenEncryptor(t.TempDir())
	te2 := NewTokenEncryptor(t.TempDir())

	encrypted, err := te1.EncryptToken("secret")
	if err != nil {
		t.Fatalf("EncryptToken failed: %v", err)
	}

	if _, err := te2.DecryptToken(encrypted); err == nil {
		t.Error("Expected decryption with a different key to fail")
	}
}

func TestDecryptGarbage(t *testing.T) {
	te := NewTokenEncryptor(t.TempDir())

	if _, err := te.DecryptToken("not base64!!"); err == nil {
		t.Error("Expected error for invalid ciphertext")
	}
	if _, err := te.DecryptToken("YWJj"); err == nil {
		t.Error("Expected error for truncated ciphertext")
	}
}

func TestKeyIsStableAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	encrypted, err := NewTokenEncryptor(dir).EncryptToken("persisted")
	if err != nil {
		t.Fatalf("EncryptToken failed: %v", err)
	}

	// A fresh encryptor over the same data dir must derive the same key.
	decrypted, err := NewTokenEncryptor(dir).DecryptToken(encrypted)
	if err != nil {
		t.Fatalf("DecryptToken failed: %v", err)
	}
	if decrypted != "persisted" {
		t.Errorf("Expected %q, got %q", "persisted", decrypted)
	}
}
