// Package auth implements server-side credential hashing and bearer token sessions.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/dchest/bcrypt_pbkdf"
)

const (
	// DefaultIterations is the bcrypt_pbkdf round count for new credentials.
	DefaultIterations = 10
	SaltSize          = 16
	HashSize          = 128
)

// PasswordConfig holds the parameters a credential was hashed with.
type PasswordConfig struct {
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
}

// StoredCredential is a salted slow hash of a user's sync password. It
// serializes flat as {iterations, salt, value}.
type StoredCredential struct {
	PasswordConfig
	Value []byte `json:"value"`
}

// NewCredential hashes password with a fresh random salt.
// Iterations below 1 fall back to DefaultIterations.
func NewCredential(password string, iterations int) (StoredCredential, error) {
	if iterations < 1 {
		iterations = DefaultIterations
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return StoredCredential{}, fmt.Errorf("generate salt: %w", err)
	}

	cfg := PasswordConfig{Iterations: iterations, Salt: salt}
	value, err := hash(password, cfg)
	if err != nil {
		return StoredCredential{}, err
	}
	return StoredCredential{PasswordConfig: cfg, Value: value}, nil
}

// Validate reports whether password matches the stored hash. A mismatch is
// not an error; errors only come from the hash computation itself.
func (c StoredCredential) Validate(password string) (bool, error) {
	value, err := hash(password, c.PasswordConfig)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(value, c.Value) == 1, nil
}

func hash(password string, cfg PasswordConfig) ([]byte, error) {
	value, err := bcrypt_pbkdf.Key([]byte(password), cfg.Salt, cfg.Iterations, HashSize)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return value, nil
}
