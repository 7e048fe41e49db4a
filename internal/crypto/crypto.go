// internal/crypto/crypto.go
//
// This package handles encryption and decryption of sensitive data
// (stored passwords, private key material) using AES-256-GCM.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Cipher represents an AES-256-GCM cipher with a fixed key.
type Cipher struct {
	key []byte
}

// NewCipher creates a Cipher from the given password. The password is
// padded with zeros or truncated to exactly KeySize bytes.
func NewCipher(password string) *Cipher {
	key := make([]byte, KeySize)
	copy(key, []byte(password))
	return &Cipher{key: key}
}

// Encrypt encrypts plaintext and returns hex(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %v", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %v", err)
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %v", err)
	}

	sealed := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt decrypts a hex(nonce || ciphertext) string produced by Encrypt.
func (c *Cipher) Decrypt(encryptedHex string) (string, error) {
	combined, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %v", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %v", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %v", err)
	}

	nonceSize := aesGCM.NonceSize()
	if len(combined) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := aesGCM.Open(nil, combined[:nonceSize], combined[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %v", err)
	}

	return string(plaintext), nil
}
