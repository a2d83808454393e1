package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints self-contained HS256 session tokens. The signature
// proves origin; the registry entry proves the session is still live, so
// revocation works despite the token being stateless.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	registry *registry
	now      func() time.Time
}

func NewTokenIssuer(secret []byte, issuer string, redisClient redis.UniversalClient, prefix string) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("session signing secret must be at least 32 bytes")
	}
	if issuer == "" {
		return nil, errors.New("session issuer name required")
	}
	return &TokenIssuer{
		secret:   secret,
		issuer:   issuer,
		registry: newRegistry(redisClient, prefix),
		now:      time.Now,
	}, nil
}

func (t *TokenIssuer) Issue(ctx context.Context, id Identity, meta Metadata, ttl time.Duration) (string, error) {
	now := t.now()
	sid := uuid.NewString()

	claims := tokenClaims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   id.UserID,
			ID:        sid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", err
	}

	rec := &registryRecord{
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      id.Role,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := t.registry.Save(ctx, sid, rec, ttl); err != nil {
		return "", err
	}
	return signed, nil
}

func (t *TokenIssuer) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := t.parse(token)
	if err != nil {
		return nil, err
	}

	rec, err := t.registry.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrBackend) {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return nil, err
	}
	if rec.UserID != claims.Subject {
		return nil, ErrInvalid
	}

	return &Claims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (t *TokenIssuer) Revoke(ctx context.Context, token string) error {
	claims, err := t.parse(token)
	if err != nil {
		return nil
	}
	return t.registry.Delete(ctx, claims.ID, claims.Subject)
}

func (t *TokenIssuer) RevokeAll(ctx context.Context, userID string) (int, error) {
	return t.registry.DeleteAllForUser(ctx, userID)
}

func (t *TokenIssuer) Active(ctx context.Context, userID string) ([]Session, error) {
	return t.registry.ListForUser(ctx, userID)
}

func (t *TokenIssuer) parse(token string) (*tokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
