package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// TokenManager issues and verifies HS256 access tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a token manager. secret should be at least 32
// characters.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

type identityClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Issue signs a token with identity.ID as subject.
func (m *TokenManager) Issue(identity Identity) (string, error) {
	if identity.ID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := m.now()
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Email: identity.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token and returns its identity.
func (m *TokenManager) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}

	parsed, err := jwt.ParseWithClaims(token, &identityClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*identityClaims)
	if !ok || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	if claims.Issuer != m.issuer {
		return Identity{}, fmt.Errorf("%w: expected issuer %s, got %s", ErrInvalidToken, m.issuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// IdentityFromUnverifiedToken reads the identity from a token without
// checking its signature. Clients use it to learn who they are signed in as;
// the server always verifies.
func IdentityFromUnverifiedToken(token string) (*Identity, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	return &Identity{ID: sub, Email: email}, nil
}
