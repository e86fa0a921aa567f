// Package session issues and verifies the signed cookies that carry a
// logged-in OpenID identity between requests.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName is the cookie holding the signed session token.
	CookieName = "anitya_session"

	issuer = "anitya"
)

var (
	// ErrInvalidSession indicates a token that is malformed, forged or expired.
	ErrInvalidSession = errors.New("invalid session")
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// Manager signs sessions with SECRET_KEY and expires them after
// PERMANENT_SESSION_LIFETIME.
type Manager struct {
	key      []byte
	lifetime time.Duration
	clock    func() time.Time
}

// NewManager builds a Manager. The secret must be non-empty and the lifetime
// positive.
func NewManager(secret string, lifetime time.Duration, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("session secret must not be empty")
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("session lifetime must be positive, got %s", lifetime)
	}

	m := &Manager{
		key:      []byte(secret),
		lifetime: lifetime,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Lifetime returns how long issued sessions remain valid.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Issue returns a signed token for identity.
func (m *Manager) Issue(identity string) (string, error) {
	if identity == "" {
		return "", errors.New("session identity must not be empty")
	}

	now := m.clock()
	claims := &jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Parse verifies token and returns the identity it carries.
func (m *Manager) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidSession)
	}
	return claims.Subject, nil
}

// Cookie wraps token in the session cookie.
func (m *Manager) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.lifetime / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// FromRequest returns the identity of the session cookie on r.
func (m *Manager) FromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return m.Parse(cookie.Value)
}
