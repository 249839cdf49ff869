// Package auth provides the credential primitives of the study hub:
// JWT issuance and validation, bcrypt password hashing, and the HTTP
// middleware that turns a bearer token into a user ID on the request context.
//
// TOKEN PAIR:
// Login issues two JWTs signed with the same HS256 secret:
//
//	access   12h by default, sent on every API call
//	refresh  30 days by default, only accepted by POST /token/refresh
//
// A "typ" claim tells them apart, so a refresh token can never be used as an
// access token and vice versa. Both carry a unique "jti" (an xid), which makes
// every issued token distinct even when two are signed in the same second.
// The refresh flow relies on this to detect a replayed, already-rotated token.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const issuer = "study-hub"

// Default lifetimes, used when NewTokenService is given a zero duration.
const (
	DefaultAccessTTL  = 12 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a TokenService with the given secret and lifetimes.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// AccessTTL is how long a freshly issued access token stays valid.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL is how long a freshly issued refresh token stays valid.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// claims is the JWT payload. "sub" holds the user ID in decimal,
// "typ" holds the TokenKind.
type claims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// GenerateAccess signs an access token for userID.
func (s *TokenService) GenerateAccess(userID int64) (string, error) {
	return s.GenerateWithDuration(userID, AccessToken, s.accessTTL)
}

// GenerateRefresh signs a refresh token for userID.
func (s *TokenService) GenerateRefresh(userID int64) (string, error) {
	return s.GenerateWithDuration(userID, RefreshToken, s.refreshTTL)
}

// GenerateWithDuration signs a token of the given kind with a custom lifetime.
// Tests use a negative duration to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(userID int64, kind TokenKind, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string of the expected kind and returns
// the user ID stored in its "sub" claim.
//
// The jwt library checks the signature, expiry, issuer and algorithm.
// Passing jwt.WithValidMethods rejects "alg: none" and RS/HS confusion.
func (s *TokenService) Validate(tokenStr string, want TokenKind) (int64, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, fmt.Errorf("auth: token expired")
		}
		return 0, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("auth: invalid token claims")
	}
	if c.Kind != want {
		return 0, fmt.Errorf("auth: expected %s token, got %q", want, c.Kind)
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("auth: token has an invalid subject")
	}

	return userID, nil
}
