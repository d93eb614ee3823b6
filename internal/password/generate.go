// Package password derives per-domain passwords from a master secret.
//
// The derivation is the SuperGenPass scheme: the seed is hashed with MD5 and
// re-encoded with an alphanumeric base64 variant for a number of rounds until
// the prefix satisfies common complexity rules. Nothing is stored; the same
// inputs always produce the same password.
package password

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"

	"passe/internal/domain"
)

const (
	DefaultMinRounds = 10
	DefaultMaxRounds = 50
)

// ErrValidation is returned when no valid candidate appears within MaxRounds.
var ErrValidation = errors.New("no valid password found")

// '.' and '/' are mapped to '9' and '8' after encoding, '=' to 'A'.
var encoding = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789./")

// Generator holds the round bounds. The zero value is not usable; use Default.
type Generator struct {
	MinRounds int
	MaxRounds int
}

// Default is the generator used by Generate.
var Default = Generator{MinRounds: DefaultMinRounds, MaxRounds: DefaultMaxRounds}

// Generate derives the password for domain using the default round bounds.
func Generate(domainName, master string, cfg domain.DomainConfig) (string, error) {
	return Default.Generate(domainName, master, cfg)
}

func (g Generator) Generate(domainName, master string, cfg domain.DomainConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	buf := []byte(master + cfg.Suffix + ":" + domainName)
	rounds := 0
	for rounds < g.MinRounds {
		buf = round(buf)
		rounds++
	}

	for len(buf) < cfg.Length || !valid(buf[:cfg.Length]) {
		if rounds >= g.MaxRounds {
			return "", fmt.Errorf("%w after %d rounds", ErrValidation, rounds)
		}
		buf = round(buf)
		rounds++
	}

	return string(buf[:cfg.Length]), nil
}

func round(in []byte) []byte {
	sum := md5.Sum(in)
	out := make([]byte, encoding.EncodedLen(len(sum)))
	encoding.Encode(out, sum[:])
	for i, b := range out {
		switch b {
		case '=':
			out[i] = 'A'
		case '.':
			out[i] = '9'
		case '/':
			out[i] = '8'
		}
	}
	return out
}

// valid requires a leading lowercase letter plus at least one uppercase letter and one digit.
func valid(candidate []byte) bool {
	if len(candidate) == 0 || !isLower(candidate[0]) {
		return false
	}
	var upper, digit bool
	for _, b := range candidate {
		switch {
		case b >= 'A' && b <= 'Z':
			upper = true
		case b >= '0' && b <= '9':
			digit = true
		}
	}
	return upper && digit
}

func isLower(b byte) bool {
	return b >= 'a' && b <= 'z'
}
