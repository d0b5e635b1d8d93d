package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "interview:session:"
	sessionTTL       = 24 * time.Hour
)

// RedisStore keeps sessions in Redis so webhook callbacks can land on any
// replica of the service.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a session store backed by Redis.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var _ Store = (*RedisStore)(nil)

func redisSessionKey(key Key) string {
	return sessionKeyPrefix + key.String()
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Session, error) {
	data, err := s.rdb.Get(ctx, redisSessionKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("interview: session get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("interview: session unmarshal: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, session *Session) error {
	if session == nil {
		return fmt.Errorf("interview: session required")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("interview: session marshal: %w", err)
	}
	return s.rdb.Set(ctx, redisSessionKey(key), data, sessionTTL).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	return s.rdb.Del(ctx, redisSessionKey(key)).Err()
}
