package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// RedisIdempotency stores idempotency keys and their responses in Redis so
// every instance replays the same result.
type RedisIdempotency struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewRedisIdempotency keeps completed responses for ttl. A claimed key that
// never completes expires after a minute (or ttl, when shorter).
func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl, pendingTTL: min(ttl, time.Minute)}
}

func (r *RedisIdempotency) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

func (r *RedisIdempotency) Begin(ctx context.Context, userID, key string) (*StoredResponse, error) {
	k := r.key(userID, key)
	added, err := r.client.SetNX(ctx, k, pendingMarker, r.pendingTTL).Result()
	if err != nil {
		return nil, err
	}
	if added {
		return nil, nil
	}
	val, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) || val == pendingMarker {
		return nil, ErrRequestInFlight
	}
	if err != nil {
		return nil, err
	}
	var stored StoredResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &stored, nil
}

func (r *RedisIdempotency) Complete(ctx context.Context, userID, key string, resp StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(userID, key), data, r.ttl).Err()
}

func (r *RedisIdempotency) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
