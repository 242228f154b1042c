package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for the dedupe window.
const dedupeKeyPrefix = "dedupe:"

// RedisTokenStore is the Redis-backed dedupe window, recommended when
// multiple instances share the ingest load. TTL expiry bounds the window
// server-side.
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) Find(ctx context.Context, personID, token string) (TokenRecord, bool, error) {
	raw, err := s.client.Get(ctx, dedupeKey(personID, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return TokenRecord{}, false, nil
	}
	if err != nil {
		return TokenRecord{}, false, fmt.Errorf("dedupe find: %w", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return TokenRecord{}, false, fmt.Errorf("dedupe decode: %w", err)
	}
	return rec, true, nil
}

func (s *RedisTokenStore) Remember(ctx context.Context, personID, token string, rec TokenRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dedupe encode: %w", err)
	}
	return s.client.Set(ctx, dedupeKey(personID, token), raw, ttl).Err()
}

func dedupeKey(personID, token string) string {
	return dedupeKeyPrefix + personID + ":" + token
}
