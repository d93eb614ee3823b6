package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// TokenTTL is how long an issued token stays valid. Not configurable per call.
const TokenTTL = 7 * 24 * time.Hour

const tokenSize = 64

// ErrUnauthenticated covers a wrong password as well as an unknown or expired token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Token is an opaque bearer value with an expiry in epoch seconds.
type Token struct {
	Value   string `json:"value"`
	Expires int64  `json:"expires"`
}

// NewToken creates a random token expiring TokenTTL after now.
func NewToken(now time.Time) (Token, error) {
	raw := make([]byte, tokenSize)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, fmt.Errorf("generate token: %w", err)
	}
	return Token{
		Value:   base64.StdEncoding.EncodeToString(raw),
		Expires: now.Add(TokenTTL).Unix(),
	}, nil
}

// Live reports whether the token has not yet expired at now.
func (t Token) Live(now time.Time) bool {
	return t.Expires > now.Unix()
}

// User is the server-side record of one account: its credential and live sessions.
//
// User has no locking of its own; callers serialize access through the owning database.
type User struct {
	Password StoredCredential `json:"password"`
	Tokens   []Token          `json:"tokens"`
}

func NewUser(password StoredCredential) *User {
	return &User{Password: password, Tokens: []Token{}}
}

// Login checks password and, on success, issues and records a new token.
func (u *User) Login(password string, now time.Time) (Token, error) {
	u.ExpireTokens(now)
	if password == "" {
		return Token{}, ErrUnauthenticated
	}
	ok, err := u.Password.Validate(password)
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, ErrUnauthenticated
	}

	token, err := NewToken(now)
	if err != nil {
		return Token{}, err
	}
	u.Tokens = append(u.Tokens, token)
	return token, nil
}

// ExpireTokens drops every token that is no longer live, preserving order.
func (u *User) ExpireTokens(now time.Time) {
	live := u.Tokens[:0]
	for _, tok := range u.Tokens {
		if tok.Live(now) {
			live = append(live, tok)
		}
	}
	clear(u.Tokens[len(live):])
	u.Tokens = live
}

// ValidateToken sweeps expired tokens and then looks for an exact match.
func (u *User) ValidateToken(value string, now time.Time) error {
	u.ExpireTokens(now)
	found := 0
	for _, tok := range u.Tokens {
		found |= subtle.ConstantTimeCompare([]byte(tok.Value), []byte(value))
	}
	if found != 1 {
		return ErrUnauthenticated
	}
	return nil
}
