package session

import (
	"context"
	"sync"
	"time"

	"litrank-web/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

// VisitorDB is the storage the visitor token store needs.
type VisitorDB interface {
	Value(visitorID, key string) (string, error)
	SetValue(visitorID, key, value string) error
	DeleteValue(visitorID, key string) error
	RenewVisitor(id string, newExpiresAt time.Time) error
}

// VisitorTokens stores the token of one browser visitor under storage.TokenKey.
type VisitorTokens struct {
	db      VisitorDB
	visitor string
	// minLifetime keeps the visitor record alive at least this long after login.
	minLifetime time.Duration
}

// ForVisitor returns the token store of a visitor.
func ForVisitor(db VisitorDB, visitorID string, minLifetime time.Duration) *VisitorTokens {
	return &VisitorTokens{db: db, visitor: visitorID, minLifetime: minLifetime}
}

func (t *VisitorTokens) Token(ctx context.Context) (string, error) {
	return t.db.Value(t.visitor, storage.TokenKey)
}

// SetToken stores token and extends the visitor record to outlive it.
func (t *VisitorTokens) SetToken(ctx context.Context, token string) error {
	if err := t.db.SetValue(t.visitor, storage.TokenKey, token); err != nil {
		return err
	}
	return t.db.RenewVisitor(t.visitor, visitorExpiry(token, time.Now(), t.minLifetime))
}

func (t *VisitorTokens) ClearToken(ctx context.Context) error {
	return t.db.DeleteValue(t.visitor, storage.TokenKey)
}

// visitorExpiry returns the later of now+minLifetime and the token's exp
// claim. The claim is read without verification: the backend owns the key and
// rejects bad tokens itself.
func visitorExpiry(token string, now time.Time, minLifetime time.Duration) time.Time {
	floor := now.Add(minLifetime)
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return floor
	}
	if exp := claims.ExpiresAt.Time; exp.After(floor) {
		return exp
	}
	return floor
}

// MemoryTokens keeps a token in memory. Used by the CLI and tests.
type MemoryTokens struct {
	mu    sync.Mutex
	token string
}

func (m *MemoryTokens) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokens) SetToken(_ context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokens) ClearToken(context.Context) error {
	return m.SetToken(context.Background(), "")
}
