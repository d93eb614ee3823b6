package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"passe/internal/domain"
)

// DefaultServer is used when no server URL is configured.
const DefaultServer = "http://localhost:8000"

var (
	// ErrUnauthorized is returned when the server still rejects the request
	// after a fresh login.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUserExists is returned by Register for a taken username.
	ErrUserExists = errors.New("user already exists")
)

// StatusError is an unexpected HTTP status from the server.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: server returned %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// CredentialPrompter asks the user for sync credentials. lastUser is the
// cached user name, empty when there is none.
type CredentialPrompter interface {
	PromptCredentials(ctx context.Context, lastUser string) (domain.LoginRequest, error)
}

type SyncerConfig struct {
	ServerURL  string
	HTTPClient *http.Client
	Prompter   CredentialPrompter
	Logger     *logrus.Logger
}

// Syncer drives the request/response exchange between the store and a server.
// It reuses the store's cached credential and logs in again once when the
// server answers 401.
type Syncer struct {
	server   string
	http     *http.Client
	store    *Store
	prompter CredentialPrompter
	log      *logrus.Entry
}

func NewSyncer(store *Store, cfg SyncerConfig) *Syncer {
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServer
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Syncer{
		server:   strings.TrimRight(cfg.ServerURL, "/"),
		http:     cfg.HTTPClient,
		store:    store,
		prompter: cfg.Prompter,
		log:      cfg.Logger.WithField("component", "sync"),
	}
}

// Sync sends the pending changes (or, with full, every effective domain) and
// adopts the server's canonical map.
func (s *Syncer) Sync(ctx context.Context, full bool) (domain.Domains, error) {
	changes := s.store.Changes()
	if full {
		changes = s.store.FullChanges()
	}
	s.log.Debugf("syncing %d changes (full=%t)", len(changes), full)

	var domains domain.Domains
	if err := s.Do(ctx, http.MethodPost, "/db", changes, &domains); err != nil {
		return nil, err
	}
	if domains == nil {
		domains = make(domain.Domains)
	}
	s.store.PostSync(domains)
	return domains, nil
}

// Pull fetches the server's canonical map without touching local state.
func (s *Syncer) Pull(ctx context.Context) (domain.Domains, error) {
	var domains domain.Domains
	if err := s.Do(ctx, http.MethodGet, "/db", nil, &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// Register creates an account and caches the returned credential.
func (s *Syncer) Register(ctx context.Context, req domain.LoginRequest) (domain.Authentication, error) {
	var a domain.Authentication
	err := s.send(ctx, http.MethodPost, "/register", req, nil, &a)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		return domain.Authentication{}, ErrUserExists
	}
	if err != nil {
		return domain.Authentication{}, err
	}
	s.store.SetCredential(a)
	return a, nil
}

// Login exchanges a password for a token and caches the credential.
func (s *Syncer) Login(ctx context.Context, req domain.LoginRequest) (domain.Authentication, error) {
	var a domain.Authentication
	if err := s.send(ctx, http.MethodPost, "/login", req, nil, &a); err != nil {
		if isUnauthorized(err) {
			return domain.Authentication{}, ErrUnauthorized
		}
		return domain.Authentication{}, err
	}
	s.store.SetCredential(a)
	return a, nil
}

// Do performs an authenticated request. On a 401 it prompts for credentials,
// logs in and retries exactly once.
func (s *Syncer) Do(ctx context.Context, method, path string, body, out any) error {
	cred, cached := s.store.Credential()
	if cached {
		err := s.send(ctx, method, path, body, &cred, out)
		if !isUnauthorized(err) {
			return err
		}
		s.log.Debug("cached credential rejected, logging in")
	}

	if s.prompter == nil {
		return ErrUnauthorized
	}
	req, err := s.prompter.PromptCredentials(ctx, cred.User)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	fresh, err := s.Login(ctx, req)
	if err != nil {
		return err
	}

	err = s.send(ctx, method, path, body, &fresh, out)
	if isUnauthorized(err) {
		return ErrUnauthorized
	}
	return err
}

func (s *Syncer) send(ctx context.Context, method, path string, body any, cred *domain.Authentication, out any) error {
	var reader io.Reader
	if body != nil && method != http.MethodGet {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.server+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		header, err := json.Marshal(cred)
		if err != nil {
			return fmt.Errorf("encode credential: %w", err)
		}
		req.Header.Set("Authorization", string(header))
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func isUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
