package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"careerpilot.app/career-chat/internal/cache"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// TokenIssuer signs and verifies HS256 session tokens. Revoked token IDs are
// remembered in the shared cache until the token would have expired anyway.
type TokenIssuer struct {
	secret  []byte
	ttl     time.Duration
	revoked cache.Store
}

func NewTokenIssuer(secret string, ttl time.Duration, revoked cache.Store) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, revoked: revoked}
}

func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

func (t *TokenIssuer) Issue(userID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *TokenIssuer) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &rc, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || rc.Subject == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{UserID: rc.Subject, TokenID: rc.ID}
	if rc.ExpiresAt != nil {
		claims.ExpiresAt = rc.ExpiresAt.Time
	}

	if t.revoked != nil && claims.TokenID != "" {
		_, err := t.revoked.Get(ctx, revokedKey(claims.TokenID))
		switch {
		case err == nil:
			return nil, ErrTokenRevoked
		case !errors.Is(err, cache.ErrMiss):
			return nil, fmt.Errorf("failed to check token revocation: %w", err)
		}
	}
	return claims, nil
}

// Revoke blocks the token until its natural expiry.
func (t *TokenIssuer) Revoke(ctx context.Context, claims *Claims) error {
	if t.revoked == nil || claims.TokenID == "" {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if _, err := t.revoked.SetNX(ctx, revokedKey(claims.TokenID), "1", ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func revokedKey(tokenID string) string {
	return "auth:revoked:" + tokenID
}
