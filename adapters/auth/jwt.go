// Package auth signs and verifies the bearer tokens checked by the
// authMiddleware. Tokens are HS256 JWTs so every gateway replica sharing
// auth.jwt_secret accepts them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
)

const issuer = "conduit"

var (
	// ErrExpired is returned by Verify for a well-formed token past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrInvalid is returned by Verify for every other rejected token.
	ErrInvalid = errors.New("invalid token")
)

// Claims identifies the caller of a route.
type Claims struct {
	UserID string   `json:"uid"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenService issues and verifies gateway tokens. Safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

// NewTokenService creates a token service. A zero ttl means one hour.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		parser: jwt.NewParser(
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		),
	}
}

// Issue signs a token for userID with the given scopes and returns it with
// its expiry.
func (s *TokenService) Issue(userID string, scopes ...string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("signing secret is empty")
	}
	if userID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}

	now := time.Now().UTC()
	exp := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses raw and returns its claims. Errors wrap ErrExpired or
// ErrInvalid.
func (s *TokenService) Verify(raw string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrInvalid
	}

	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	case claims.UserID == "":
		return nil, fmt.Errorf("%w: missing uid claim", ErrInvalid)
	}
	return claims, nil
}

// Verifier adapts the service to middleware.Auth.
func (s *TokenService) Verifier() middleware.Verifier {
	return func(token string) (middleware.Principal, error) {
		claims, err := s.Verify(token)
		if err != nil {
			return middleware.Principal{}, err
		}
		return middleware.Principal{ID: claims.UserID, Scopes: claims.Scopes}, nil
	}
}
