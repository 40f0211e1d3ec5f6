// Package auth issues and verifies the HS256 bearer tokens that guard the
// admin routes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeAdmin is the only scope the admin routes accept.
const ScopeAdmin = "admin"

// ErrNoSecret means no signing secret is configured; admin is disabled.
var ErrNoSecret = errors.New("jwt secret not configured")

type TokenService struct {
	Secret   []byte
	Issuer   string
	Duration time.Duration
}

type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

func (ts TokenService) Enabled() bool { return len(ts.Secret) > 0 }

// Sign mints an admin token for subject.
func (ts TokenService) Sign(subject string) (string, time.Time, error) {
	if !ts.Enabled() {
		return "", time.Time{}, ErrNoSecret
	}
	now := time.Now()
	exp := now.Add(ts.Duration)

	claims := Claims{
		Scope: ScopeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(ts.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

func (ts TokenService) Parse(tokenString string) (*Claims, error) {
	if !ts.Enabled() {
		return nil, ErrNoSecret
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if ts.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.Issuer))
	}
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return ts.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Scope != ScopeAdmin {
		return nil, fmt.Errorf("token scope %q is not %q", claims.Scope, ScopeAdmin)
	}
	return claims, nil
}
