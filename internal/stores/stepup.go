package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const stepUpRecordVersion1 = 1

var (
	ErrStepUpNotFound = errors.New("step-up attempt not found")
	ErrStepUpExpired  = errors.New("step-up attempt expired")
	ErrStepUpBackend  = errors.New("step-up backend unavailable")
)

// StepUpRecord is one live verification attempt. The key is derived from
// (user, purpose), so saving a new record supersedes the previous one
// for that pair; Handle distinguishes the superseded attempt's code from
// the live one.
type StepUpRecord struct {
	Handle    string
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint8
}

// StepUpStore persists step-up verification attempts and their grants.
type StepUpStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStepUpStore(redisClient redis.UniversalClient, prefix string) *StepUpStore {
	if prefix == "" {
		prefix = "asu"
	}
	return &StepUpStore{redis: redisClient, prefix: prefix}
}

func (s *StepUpStore) key(userID, purpose string) string {
	return s.prefix + ":" + userID + ":" + purpose
}

func (s *StepUpStore) grantKey(userID, purpose string) string {
	return s.prefix + "g:" + userID + ":" + purpose
}

// Save writes the attempt record, replacing any live attempt for the
// same (user, purpose).
func (s *StepUpStore) Save(ctx context.Context, userID, purpose string, rec *StepUpRecord, ttl time.Duration) error {
	encoded, err := encodeStepUpRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(userID, purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}
	return nil
}

// Get returns the live attempt, lazily discarding one whose wall-clock
// expiry has passed even if the key has not been evicted yet.
func (s *StepUpStore) Get(ctx context.Context, userID, purpose string) (*StepUpRecord, error) {
	data, err := s.redis.Get(ctx, s.key(userID, purpose)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStepUpNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}

	rec, err := decodeStepUpRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > rec.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(userID, purpose)).Result()
		return nil, ErrStepUpExpired
	}
	return rec, nil
}

// Delete removes the live attempt. Returns whether a record existed.
func (s *StepUpStore) Delete(ctx context.Context, userID, purpose string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(userID, purpose)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under a WATCH transaction
// so concurrent wrong submissions cannot lose an increment. Returns true
// once the budget is exhausted, in which case the record is removed and
// the caller must request a fresh code.
func (s *StepUpStore) RecordFailure(ctx context.Context, userID, purpose string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(userID, purpose)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeStepUpRecord(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > rec.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrStepUpExpired
			}

			rec.Attempts++
			if int(rec.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrStepUpExpired
			}

			updated, err := encodeStepUpRecord(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrStepUpNotFound
			}
			if errors.Is(err, ErrStepUpExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrStepUpBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrStepUpNotFound
}

// SaveGrant marks the (user, purpose) pair as step-up authorized for ttl.
func (s *StepUpStore) SaveGrant(ctx context.Context, userID, purpose string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.grantKey(userID, purpose), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}
	return nil
}

// HasGrant reports whether a live step-up authorization exists. Fails
// closed: a backend error reads as "not authorized".
func (s *StepUpStore) HasGrant(ctx context.Context, userID, purpose string) (bool, error) {
	err := s.redis.Get(ctx, s.grantKey(userID, purpose)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}
	return true, nil
}

// ConsumeGrant removes the authorization so the gated action runs once
// per confirmation.
func (s *StepUpStore) ConsumeGrant(ctx context.Context, userID, purpose string) (bool, error) {
	n, err := s.redis.Del(ctx, s.grantKey(userID, purpose)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}
	return n > 0, nil
}

func encodeStepUpRecord(rec *StepUpRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(stepUpRecordVersion1)
	buf.WriteByte(rec.Attempts)

	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}

	if len(rec.Handle) > 255 {
		return nil, errors.New("step-up handle too long")
	}
	buf.WriteByte(byte(len(rec.Handle)))
	buf.WriteString(rec.Handle)
	buf.Write(rec.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeStepUpRecord(data []byte) (*StepUpRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != stepUpRecordVersion1 {
		return nil, errors.New("invalid step-up record version")
	}

	rec := &StepUpRecord{}
	attempts, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	rec.Attempts = attempts

	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}

	handleLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	handle := make([]byte, handleLen)
	if _, err := io.ReadFull(reader, handle); err != nil {
		return nil, err
	}
	rec.Handle = string(handle)

	if _, err := io.ReadFull(reader, rec.CodeHash[:]); err != nil {
		return nil, err
	}

	return rec, nil
}
