package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"passe/internal/auth"
	"passe/internal/domain"
	"passe/internal/storage"
)

var (
	// ErrUnauthenticated is the single failure reported for a bad password,
	// unknown user, or unknown/expired token.
	ErrUnauthenticated = auth.ErrUnauthenticated
	// ErrUserExists is returned when registering a username that is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername rejects names that cannot double as storage document names.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword rejects empty passwords.
	ErrInvalidPassword = errors.New("password is required")
)

const maxUsernameLength = 64

// UserDBOptions tunes a UserDB. Zero values select defaults.
type UserDBOptions struct {
	Iterations int
	Now        func() time.Time
	Logger     *logrus.Logger
}

// UserDB is the process-wide login database. Every operation runs under one
// mutex, including the hashing and any persistence write.
type UserDB struct {
	mu          sync.Mutex
	users       map[string]*auth.User
	stored      []byte
	persistence storage.Persistence

	iterations int
	now        func() time.Time
	log        *logrus.Entry
}

// NewUserDB loads the users document from p, starting empty if it does not exist.
func NewUserDB(ctx context.Context, p storage.Persistence, opts UserDBOptions) (*UserDB, error) {
	if opts.Iterations < 1 {
		opts.Iterations = auth.DefaultIterations
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	users := make(map[string]*auth.User)
	data, err := p.Load(ctx, storage.UsersDocument)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load users: %w", err)
	default:
		if err := json.Unmarshal(data, &users); err != nil {
			return nil, fmt.Errorf("decode users: %w", err)
		}
	}

	db := &UserDB{
		users:       users,
		persistence: p,
		iterations:  opts.Iterations,
		now:         opts.Now,
		log:         opts.Logger.WithField("component", "userdb"),
	}
	// snapshot in canonical form so formatting differences in the file don't count as dirty
	if db.stored, err = json.Marshal(db.users); err != nil {
		return nil, fmt.Errorf("encode users: %w", err)
	}
	db.log.Infof("loaded %d users", len(users))
	return db, nil
}

// Register creates a user with the given password. It fails with ErrUserExists
// if the name is taken.
func (db *UserDB) Register(ctx context.Context, req domain.LoginRequest) error {
	if err := validateUsername(req.User); err != nil {
		return err
	}
	if req.Password == "" {
		return ErrInvalidPassword
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.users[req.User]; exists {
		return ErrUserExists
	}
	cred, err := auth.NewCredential(req.Password, db.iterations)
	if err != nil {
		return err
	}
	db.users[req.User] = auth.NewUser(cred)
	db.log.WithField("user", req.User).Info("registered user")
	return db.autosave(ctx)
}

// Login validates the password and issues a new token.
func (db *UserDB) Login(ctx context.Context, req domain.LoginRequest) (auth.Token, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, ok := db.users[req.User]
	if !ok {
		return auth.Token{}, ErrUnauthenticated
	}
	token, err := user.Login(req.Password, db.now())
	if err != nil {
		return auth.Token{}, err
	}
	if err := db.autosave(ctx); err != nil {
		return auth.Token{}, err
	}
	return token, nil
}

// Validate checks a bearer credential. It never writes to persistence; tokens
// swept here are persisted by the next mutating call.
func (db *UserDB) Validate(_ context.Context, a domain.Authentication) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, ok := db.users[a.User]
	if !ok {
		return ErrUnauthenticated
	}
	return user.ValidateToken(a.Token, db.now())
}

// Sweep expires stale tokens for every user and persists the result if it changed.
func (db *UserDB) Sweep(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	for _, user := range db.users {
		user.ExpireTokens(now)
	}
	return db.autosave(ctx)
}

// Close flushes any unsaved state.
func (db *UserDB) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.autosave(ctx)
}

// Len returns the number of registered users.
func (db *UserDB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users)
}

// autosave writes the users document only when it differs from the last
// persisted snapshot. Callers must hold db.mu.
func (db *UserDB) autosave(ctx context.Context) error {
	data, err := json.Marshal(db.users)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	if bytes.Equal(data, db.stored) {
		return nil
	}
	db.log.Debugf("saving %s", storage.UsersDocument)
	if err := db.persistence.Save(ctx, storage.UsersDocument, data); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	db.stored = data
	return nil
}

func validateUsername(name string) error {
	if name == "" || len(name) > maxUsernameLength || strings.TrimSpace(name) != name {
		return ErrInvalidUsername
	}
	if !storage.ValidName(storage.DomainsDocument(name)) {
		return ErrInvalidUsername
	}
	return nil
}
