package domain

import (
	"errors"
	"fmt"
)

const (
	// DefaultLength is the generated password length used when nothing else is configured.
	DefaultLength = 10
	// MaxLength is the length of one encoded digest; longer passwords cannot be derived.
	MaxLength = 24
)

// ErrInvalidLength is returned for lengths outside 1..MaxLength.
var ErrInvalidLength = errors.New("invalid password length")

// DomainConfig holds the per-domain generation settings.
type DomainConfig struct {
	Length int    `json:"length"`
	Suffix string `json:"suffix,omitempty"`
	Note   string `json:"note,omitempty"`
}

// DefaultDomainConfig returns the configuration used for unknown domains.
func DefaultDomainConfig() DomainConfig {
	return DomainConfig{Length: DefaultLength}
}

// WithLength returns a copy of c using the given length.
func (c DomainConfig) WithLength(length int) DomainConfig {
	c.Length = length
	return c
}

func (c DomainConfig) Validate() error {
	if c.Length <= 0 || c.Length > MaxLength {
		return fmt.Errorf("%w: %d (must be between 1 and %d)", ErrInvalidLength, c.Length, MaxLength)
	}
	return nil
}

// Domains maps domain names to their stored configuration.
type Domains map[string]DomainConfig

// Clone returns an independent copy of d. A nil map clones to an empty one.
func (d Domains) Clone() Domains {
	out := make(Domains, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Defaulted tags a resolved value with whether it was found or fell back to defaults.
type Defaulted[T any] struct {
	value    T
	explicit bool
}

func Explicit[T any](v T) Defaulted[T] {
	return Defaulted[T]{value: v, explicit: true}
}

func Default[T any](v T) Defaulted[T] {
	return Defaulted[T]{value: v}
}

// Value returns the underlying value regardless of its origin.
func (d Defaulted[T]) Value() T {
	return d.value
}

func (d Defaulted[T]) IsExplicit() bool {
	return d.explicit
}

func (d Defaulted[T]) IsDefault() bool {
	return !d.explicit
}
