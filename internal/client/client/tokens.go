package client

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/golang-jwt/jwt/v5"
)

// TokenStore persists credentials between runs.
type TokenStore interface {
	// Load returns (nil, nil) when nothing is stored.
	Load(ctx context.Context) (*models.Credentials, error)
	Save(ctx context.Context, c *models.Credentials) error
	Clear(ctx context.Context) error
}

// TokenManager holds the current credentials. It is safe for concurrent use.
type TokenManager struct {
	mu    sync.RWMutex
	creds *models.Credentials
	store TokenStore
}

// NewTokenManager loads any stored credentials. store may be nil for an
// in-memory manager.
func NewTokenManager(ctx context.Context, store TokenStore) (*TokenManager, error) {
	m := &TokenManager{store: store}
	if store == nil {
		return m, nil
	}
	c, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	m.creds = c
	return m, nil
}

func (m *TokenManager) LoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds != nil && m.creds.AccessToken != ""
}

func (m *TokenManager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.AccessToken
}

func (m *TokenManager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.RefreshToken
}

// User returns the account of the current credentials.
func (m *TokenManager) User() (models.UserInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return models.UserInfo{}, false
	}
	return m.creds.UserInfo, true
}

func (m *TokenManager) Set(ctx context.Context, c *models.Credentials) error {
	cp := *c
	m.mu.Lock()
	m.creds = &cp
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store.Save(ctx, &cp)
}

func (m *TokenManager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.creds = nil
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store.Clear(ctx)
}

// ExpiresWithin reports whether the access token is a JWT whose exp claim
// falls before now+d. Tokens that are not JWTs or lack exp never expire here;
// the server's 401 is authoritative for them.
func (m *TokenManager) ExpiresWithin(now time.Time, d time.Duration) bool {
	token := m.AccessToken()
	if token == "" {
		return false
	}
	exp, ok := tokenExpiry(token)
	if !ok {
		return false
	}
	return exp.Before(now.Add(d))
}

func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
