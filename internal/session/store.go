// Package session resolves the current visitor's identity from a persisted
// bearer token.
package session

import (
	"context"
	"fmt"
	"sync"

	"litrank-web/internal/models"

	"github.com/rs/zerolog/log"
)

// IdentityService is the part of the backend the store talks to.
type IdentityService interface {
	CurrentUser(ctx context.Context, token string) (*models.User, error)
	IssueToken(ctx context.Context, username, password string) (*models.Token, error)
}

// TokenStore persists a single bearer token. Writes are last-write-wins.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Store caches the resolved session for one visitor.
type Store struct {
	identity IdentityService
	tokens   TokenStore

	mu      sync.Mutex
	current *models.Session
}

// NewStore creates a store backed by identity and tokens.
func NewStore(identity IdentityService, tokens TokenStore) *Store {
	return &Store{identity: identity, tokens: tokens}
}

// Resolve reads the persisted token and looks up its identity. Without a
// token it returns nil without calling the backend. Any lookup failure
// returns nil and leaves the token in place, so a transient outage does not
// log the visitor out.
func (s *Store) Resolve(ctx context.Context) *models.Session {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("read persisted token")
		s.set(nil)
		return nil
	}
	if token == "" {
		s.set(nil)
		return nil
	}

	user, err := s.identity.CurrentUser(ctx, token)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to fetch current user")
		s.set(nil)
		return nil
	}

	sess := models.NewSession(user, token)
	s.set(sess)
	return sess
}

// Login exchanges credentials for a token, persists it and resolves the
// identity behind it. Backend errors are returned unchanged so their detail
// can be shown to the user.
func (s *Store) Login(ctx context.Context, username, password string) (*models.Session, error) {
	tok, err := s.identity.IssueToken(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SetToken(ctx, tok.AccessToken); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	sess := s.Resolve(ctx)
	if sess == nil {
		return nil, fmt.Errorf("resolve identity after login: token not accepted")
	}
	return sess, nil
}

// Logout clears the persisted token and forgets the identity. It never calls
// the backend.
func (s *Store) Logout(ctx context.Context) error {
	s.set(nil)
	if err := s.tokens.ClearToken(ctx); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// Current returns the last resolved session, nil when anonymous.
func (s *Store) Current() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) set(sess *models.Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}
