// Package auth implements the token-verification boundary of the relay.
//
// Token issuance belongs to the external identity system; the relay only
// verifies the HS256 access token presented at connection time and extracts
// the logical-user id it carries.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors.
var (
	ErrEmptyToken    = errors.New("auth: empty token")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingUserID = errors.New("auth: token carries no user id")
)

// JWTVerifier validates HMAC-signed access tokens.
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewJWTVerifier constructs a verifier for HS256/HS384/HS512 tokens signed
// with secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	return &JWTVerifier{secret: secret, leeway: 30 * time.Second}, nil
}

// Verify parses and validates the token, returning the logical-user id from
// the "profileId" claim (with "sub" as fallback).
func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	if id, ok := claims["profileId"].(string); ok && strings.TrimSpace(id) != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && strings.TrimSpace(sub) != "" {
		return sub, nil
	}
	return "", ErrMissingUserID
}
