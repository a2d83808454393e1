package session

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

const registryRecordVersion1 = 1

// registry tracks live sessions in Redis. Every issued credential gets
// one record keyed by session ID plus membership in the owner's index
// set; verification requires the record to still exist.
type registry struct {
	redis  redis.UniversalClient
	prefix string
}

type registryRecord struct {
	UserID    string
	Email     string
	Role      string
	IP        string
	UserAgent string
	CreatedAt int64
	ExpiresAt int64
}

func newRegistry(redisClient redis.UniversalClient, prefix string) *registry {
	if prefix == "" {
		prefix = "aa"
	}
	return &registry{redis: redisClient, prefix: prefix}
}

func (r *registry) sessionKey(sid string) string {
	return r.prefix + ":sess:" + sid
}

func (r *registry) userKey(userID string) string {
	return r.prefix + ":user:" + userID
}

func (r *registry) Save(ctx context.Context, sid string, rec *registryRecord, ttl time.Duration) error {
	encoded, err := encodeRegistryRecord(rec)
	if err != nil {
		return err
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, r.sessionKey(sid), encoded, ttl)
	pipe.SAdd(ctx, r.userKey(rec.UserID), sid)
	// Index lives slightly longer than the session so listing can prune
	// stale members instead of leaking them.
	pipe.Expire(ctx, r.userKey(rec.UserID), ttl+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (r *registry) Get(ctx context.Context, sid string) (*registryRecord, error) {
	data, err := r.redis.Get(ctx, r.sessionKey(sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	rec, err := decodeRegistryRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > rec.ExpiresAt {
		_ = r.Delete(ctx, sid, rec.UserID)
		return nil, ErrInvalid
	}
	return rec, nil
}

func (r *registry) Delete(ctx context.Context, sid, userID string) error {
	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, r.sessionKey(sid))
	if userID != "" {
		pipe.SRem(ctx, r.userKey(userID), sid)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// DeleteAllForUser removes every session in the user's index and the
// index itself, returning how many live records were removed.
func (r *registry) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	sids, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(sids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(sids)+1)
	for _, sid := range sids {
		keys = append(keys, r.sessionKey(sid))
	}

	removed, err := r.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := r.redis.Del(ctx, r.userKey(userID)).Err(); err != nil {
		return int(removed), fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return int(removed), nil
}

// ListForUser returns the user's live sessions, pruning index members
// whose records have expired.
func (r *registry) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	sids, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	sessions := make([]Session, 0, len(sids))
	for _, sid := range sids {
		rec, err := r.Get(ctx, sid)
		if err != nil {
			if errors.Is(err, ErrInvalid) {
				_ = r.redis.SRem(ctx, r.userKey(userID), sid).Err()
				continue
			}
			return nil, err
		}
		sessions = append(sessions, Session{
			ID:        sid,
			UserID:    rec.UserID,
			IP:        rec.IP,
			UserAgent: rec.UserAgent,
			CreatedAt: time.Unix(rec.CreatedAt, 0),
			ExpiresAt: time.Unix(rec.ExpiresAt, 0),
		})
	}
	return sessions, nil
}

func encodeRegistryRecord(rec *registryRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(registryRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{rec.UserID, rec.Email, rec.Role, rec.IP, rec.UserAgent} {
		if len(field) > 65535 {
			return nil, errors.New("session record field too long")
		}
		var lenBytes [2]byte
		binary.BigEndian.PutUint16(lenBytes[:], uint16(len(field)))
		buf.Write(lenBytes[:])
		buf.WriteString(field)
	}
	return buf.Bytes(), nil
}

func decodeRegistryRecord(data []byte) (*registryRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != registryRecordVersion1 {
		return nil, errors.New("invalid session record version")
	}

	rec := &registryRecord{}
	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	for _, target := range []*string{&rec.UserID, &rec.Email, &rec.Role, &rec.IP, &rec.UserAgent} {
		var lenBytes [2]byte
		if _, err := io.ReadFull(reader, lenBytes[:]); err != nil {
			return nil, err
		}
		field := make([]byte, binary.BigEndian.Uint16(lenBytes[:]))
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*target = string(field)
	}
	return rec, nil
}
