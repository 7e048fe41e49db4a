// internal/models/key.go

package models

import (
	"errors"

	"prossh/internal/crypto"
)

// Key przechowuje materiał klucza prywatnego (zaszyfrowany) lub
// certyfikat razem z kluczem. Brak materiału przy uwierzytelnianiu jest
// błędem transportowym, nie awarią programu.
type Key struct {
	Description string `json:"description"`
	KeyData     string `json:"key_data,omitempty"`     // zaszyfrowany klucz prywatny (PEM)
	Certificate string `json:"certificate,omitempty"`  // certyfikat OpenSSH w formacie authorized_keys
	Passphrase  string `json:"passphrase,omitempty"`   // zaszyfrowana fraza klucza
}

// NewKey tworzy nową instancję Key szyfrując materiał klucza
func NewKey(description, keyPEM, certificate, passphrase string, cipher *crypto.Cipher) (*Key, error) {
	if description == "" {
		return nil, errors.New("description cannot be empty")
	}
	if keyPEM == "" {
		return nil, errors.New("key data must be provided")
	}

	encryptedKey, err := cipher.Encrypt(keyPEM)
	if err != nil {
		return nil, err
	}

	k := &Key{
		Description: description,
		KeyData:     encryptedKey,
		Certificate: certificate,
	}

	if passphrase != "" {
		encryptedPass, err := cipher.Encrypt(passphrase)
		if err != nil {
			return nil, err
		}
		k.Passphrase = encryptedPass
	}

	return k, nil
}

// Validate sprawdza poprawność danych Key
func (k *Key) Validate() error {
	if k.Description == "" {
		return errors.New("description cannot be empty")
	}
	if k.KeyData == "" {
		return errors.New("key data must be provided")
	}
	return nil
}

// GetKeyData zwraca odszyfrowany klucz prywatny
func (k *Key) GetKeyData(cipher *crypto.Cipher) (string, error) {
	if k.KeyData == "" {
		return "", errors.New("no key data stored")
	}
	return cipher.Decrypt(k.KeyData)
}

// GetPassphrase zwraca odszyfrowaną frazę klucza (pustą gdy brak)
func (k *Key) GetPassphrase(cipher *crypto.Cipher) (string, error) {
	if k.Passphrase == "" {
		return "", nil
	}
	return cipher.Decrypt(k.Passphrase)
}
