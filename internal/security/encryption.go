package security

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

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32 // AES-256
	saltSize   = 32
	nonceSize  = 12 // GCM standard nonce size
	pbkdf2Iter = 100000
)

// TokenEncryptor encrypts provider credentials (ARL cookies, OAuth tokens)
// before they are written to the config directory.
type TokenEncryptor struct {
	keyPath string
}

// NewTokenEncryptor creates an encryptor whose key material lives under dataDir.
func NewTokenEncryptor(dataDir string) *TokenEncryptor {
	return &TokenEncryptor{
		keyPath: filepath.Join(dataDir, ".key"),
	}
}

// EncryptToken encrypts a provider token with AES-256-GCM.
func (te *TokenEncryptor) EncryptToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token cannot be empty")
	}

	key, err := te.getOrCreateKey()
	if err != nil {
		return "", fmt.Errorf("failed to get encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptToken reverses EncryptToken.
func (te *TokenEncryptor) DecryptToken(encrypted string) (string, error) {
	if encrypted == "" {
		return "", fmt.Errorf("encrypted token cannot be empty")
	}

	key, err := te.getOrCreateKey()
	if err != nil {
		return "", fmt.Errorf("failed to get encryption key: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}
	if len(data) < nonceSize {
		return "", fmt.Errorf("encrypted token too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}

	return string(plaintext), nil
}

// getOrCreateKey loads the derived key, generating salt material on first use.
func (te *TokenEncryptor) getOrCreateKey() ([]byte, error) {
	salt, err := os.ReadFile(te.keyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}

		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(te.keyPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
		if err := os.WriteFile(te.keyPath, salt, 0600); err != nil {
			return nil, fmt.Errorf("failed to write key file: %w", err)
		}
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("corrupt key file: expected %d bytes, got %d", saltSize, len(salt))
	}

	// The machine-local salt is the secret; the passphrase only binds the key
	// to this application.
	return pbkdf2.Key([]byte("ripstream-credentials"), salt, pbkdf2Iter, keySize, sha256.New), nil
}
