// Package auth issues and validates the bearer tokens the API hands out in
// exchange for identity credentials, and hashes the credentials themselves.
// Tokens carry the identity's scope grants so authorization checks don't
// need a store round trip.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/crucibleproj/crucible/internal/scope"
)

// ErrInvalidCredential is returned for unknown identities, wrong keys, and
// bad or expired tokens. The cause is deliberately not distinguished.
var ErrInvalidCredential = errors.New("invalid credential")

// Claims is the JWT payload: the identity and its granted scope patterns.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Authenticator signs and validates access tokens with a shared HMAC
// secret.
type Authenticator struct {
	secret []byte
	expiry time.Duration
}

// NewAuthenticator creates an Authenticator. expiry bounds token lifetime;
// it defaults to 30 minutes if zero.
func NewAuthenticator(secret []byte, expiry time.Duration) (*Authenticator, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &Authenticator{secret: secret, expiry: expiry}, nil
}

// CreateToken issues a signed token for the identity carrying its scope
// grants.
func (a *Authenticator) CreateToken(identity string, scopes []scope.Scope) (string, error) {
	now := time.Now()
	patterns := make([]string, len(scopes))
	for i, sc := range scopes {
		patterns[i] = sc.String()
	}
	claims := Claims{
		Scopes: patterns,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, returning its claims.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return claims, nil
}

// Expiry returns the configured token lifetime.
func (a *Authenticator) Expiry() time.Duration {
	return a.expiry
}

// HashKey hashes an identity key for storage.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// VerifyKey checks a presented key against its stored hash.
func VerifyKey(hash, key string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidCredential
	}
	return nil
}
