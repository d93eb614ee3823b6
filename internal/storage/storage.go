// Package storage provides the persistence collaborators used by the server
// databases. Every backend stores opaque named documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by Load when the named document does not exist.
var ErrNotFound = errors.New("document not found")

// Persistence loads and saves whole named documents.
type Persistence interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, contents []byte) error
}

// Closer is implemented by backends holding connections or file handles.
type Closer interface {
	Close() error
}

// UsersDocument holds the login database.
const UsersDocument = "users.json"

// DomainsDocument names the document holding one user's domain map.
func DomainsDocument(user string) string {
	return fmt.Sprintf("user-%s.json", user)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+-]*$`)

// ValidName reports whether name is safe to use as a document name on every backend.
func ValidName(name string) bool {
	return len(name) <= 128 && validName.MatchString(name)
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}
