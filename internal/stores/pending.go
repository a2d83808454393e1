package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pendingRecordVersion1 = 1

var (
	ErrPendingNotFound = errors.New("pending login not found")
	ErrPendingBackend  = errors.New("pending login backend unavailable")
)

// PendingRecord marks a login that passed the credential check and is
// waiting on its second factor. The token handed to the client is an
// opaque random ID; the identity lives only here.
type PendingRecord struct {
	UserID    string
	Email     string
	IssuedAt  int64
	ExpiresAt int64
}

// PendingStore holds pending-login markers between the credential step
// and the second-factor step.
type PendingStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPendingStore(redisClient redis.UniversalClient, prefix string) *PendingStore {
	if prefix == "" {
		prefix = "apd"
	}
	return &PendingStore{redis: redisClient, prefix: prefix}
}

func (s *PendingStore) key(token string) string {
	return s.prefix + ":" + token
}

// Create stores a new marker and returns its opaque token.
func (s *PendingStore) Create(ctx context.Context, userID, email string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	now := time.Now()
	rec := &PendingRecord{
		UserID:    userID,
		Email:     email,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	encoded, err := encodePendingRecord(rec)
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return token, nil
}

// Get returns the marker for token, or ErrPendingNotFound.
func (s *PendingStore) Get(ctx context.Context, token string) (*PendingRecord, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}

	rec, err := decodePendingRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > rec.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(token)).Result()
		return nil, ErrPendingNotFound
	}
	return rec, nil
}

// Consume atomically fetches and deletes the marker so a pending token
// authorizes exactly one second-factor confirmation.
func (s *PendingStore) Consume(ctx context.Context, token string) (*PendingRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}

	rec, err := decodePendingRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > rec.ExpiresAt {
		return nil, ErrPendingNotFound
	}
	return rec, nil
}

func encodePendingRecord(rec *PendingRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, rec.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{rec.UserID, rec.Email} {
		if len(field) > 255 {
			return nil, errors.New("pending record field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}
	return buf.Bytes(), nil
}

func decodePendingRecord(data []byte) (*PendingRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingRecordVersion1 {
		return nil, errors.New("invalid pending record version")
	}

	rec := &PendingRecord{}
	if err := binary.Read(reader, binary.BigEndian, &rec.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	for _, target := range []*string{&rec.UserID, &rec.Email} {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*target = string(field)
	}
	return rec, nil
}
