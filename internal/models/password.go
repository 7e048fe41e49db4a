// internal/models/password.go

package models

import (
	"errors"

	"prossh/internal/crypto"
)

type Password struct {
	Description string `json:"description"`
	Password    string `json:"password"` // zaszyfrowane hasło
}

// NewPassword tworzy nową instancję Password z zaszyfrowaną wartością
func NewPassword(description string, plainPassword string, cipher *crypto.Cipher) (*Password, error) {
	if description == "" {
		return nil, errors.New("description cannot be empty")
	}
	if plainPassword == "" {
		return nil, errors.New("password cannot be empty")
	}

	encrypted, err := cipher.Encrypt(plainPassword)
	if err != nil {
		return nil, err
	}

	return &Password{
		Description: description,
		Password:    encrypted,
	}, nil
}

// Validate sprawdza poprawność danych Password
func (p *Password) Validate() error {
	if p.Description == "" {
		return errors.New("description cannot be empty")
	}
	if p.Password == "" {
		return errors.New("password cannot be empty")
	}
	return nil
}

// GetDecrypted zwraca odszyfrowane hasło
func (p *Password) GetDecrypted(cipher *crypto.Cipher) (string, error) {
	return cipher.Decrypt(p.Password)
}
