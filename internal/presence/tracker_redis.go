package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker stores availability in redis so every API process sees the
// same view.
//
// Keys expire after TTL: a process that dies while a user is marked busy
// cannot leave them busy forever. Callers that want long-lived online state
// refresh it periodically (the client adapter's heartbeat does this).
type RedisTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisTracker(rdb *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTracker{rdb: rdb, ttl: ttl}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

func (t *RedisTracker) Get(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return StatusOffline, errors.New("presence: user id required")
	}
	v, err := t.rdb.Get(ctx, presenceKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StatusOffline, nil
		}
		return StatusOffline, err
	}
	switch Status(v) {
	case StatusOnline, StatusBusy, StatusOffline:
		return Status(v), nil
	default:
		return StatusOffline, nil
	}
}

func (t *RedisTracker) Set(ctx context.Context, userID string, status Status) error {
	if userID == "" {
		return errors.New("presence: user id required")
	}
	if status == StatusOffline {
		return t.rdb.Del(ctx, presenceKey(userID)).Err()
	}
	return t.rdb.Set(ctx, presenceKey(userID), string(status), t.ttl).Err()
}
