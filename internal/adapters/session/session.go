// Package session issues and tracks signed user sessions.
//
// A tracking session exists from check-in until check-out, explicit End, or
// token expiry. Recorders poll Active to stop themselves once it is gone.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrUnexpectedSigning = errors.New("unexpected signing method")
)

const DefaultTTL = 24 * time.Hour

// Claims carried by a session token.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Session is a registered token.
type Session struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// Manager signs HS256 tokens and remembers the current session per user.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewManager creates a Manager. A zero ttl uses DefaultTTL.
func NewManager(secret, issuer string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]Session),
	}
}

// SetClock replaces time.Now. Meant for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Issue signs a token for userID. A zero ttl uses the manager default.
func (m *Manager) Issue(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedSigning, t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify checks the token and returns its user.
func (m *Manager) Verify(token string) (string, error) {
	claims, err := m.parse(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// Register verifies token and makes it the user's current session.
func (m *Manager) Register(token string) (Session, error) {
	claims, err := m.parse(token)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		UserID:    claims.UserID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	m.mu.Lock()
	m.sessions[s.UserID] = s
	m.mu.Unlock()
	return s, nil
}

// End forgets the user's session.
func (m *Manager) End(userID string) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Current returns the user's session if one is registered and unexpired.
func (m *Manager) Current(_ context.Context, userID string) (Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok || !m.now().Before(s.ExpiresAt) {
		return Session{}, false
	}
	return s, true
}

// Active reports whether userID has a live session.
func (m *Manager) Active(ctx context.Context, userID string) bool {
	_, ok := m.Current(ctx, userID)
	return ok
}
