package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"go-insights/internal/config"
)

// DecryptionError marks a credential blob that can no longer be read.
// Callers must treat this as fatal for the credential: mark the owning
// connection unhealthy, never silently skip it.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "credential decryption failed: " + e.Reason
}

// Vault encrypts opaque credential blobs with a process-wide 256-bit key.
// Stored format is hex(nonce) ":" hex(ciphertext).
type Vault struct {
	aead cipher.AEAD
}

// NewVault validates the configured key and builds the cipher.
// Key length is checked here, at startup, not at first use.
func NewVault(cfg *config.Config) (*Vault, error) {
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not configured")
	}

	key, err := hex.DecodeString(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A changed key or malformed blob yields *DecryptionError.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return nil, &DecryptionError{Reason: "malformed blob, expected nonce:ciphertext"}
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, &DecryptionError{Reason: "nonce is not valid hex"}
	}
	if len(nonce) != v.aead.NonceSize() {
		return nil, &DecryptionError{Reason: "nonce has wrong length"}
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, &DecryptionError{Reason: "ciphertext is not valid hex"}
	}

	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &DecryptionError{Reason: "authentication failed, key changed or blob corrupted"}
	}

	return plaintext, nil
}
