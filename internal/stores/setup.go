package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSetupNotFound = errors.New("totp setup not found")
	ErrSetupBackend  = errors.New("totp setup backend unavailable")
)

// SetupStore caches unconfirmed TOTP provisioning secrets. Nothing is
// persisted to the identity store until the user proves possession of
// the secret by confirming a code; abandoning setup leaves no trace
// once the TTL lapses.
type SetupStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSetupStore(redisClient redis.UniversalClient, prefix string) *SetupStore {
	if prefix == "" {
		prefix = "ats"
	}
	return &SetupStore{redis: redisClient, prefix: prefix}
}

func (s *SetupStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Save stores the candidate secret, replacing any prior unconfirmed one.
func (s *SetupStore) Save(ctx context.Context, userID string, secret []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(userID), secret, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSetupBackend, err)
	}
	return nil
}

// Get returns the candidate secret for userID.
func (s *SetupStore) Get(ctx context.Context, userID string) ([]byte, error) {
	secret, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSetupNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSetupBackend, err)
	}
	return secret, nil
}

// Delete removes the candidate secret after confirmation or cancel.
func (s *SetupStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSetupBackend, err)
	}
	return nil
}
