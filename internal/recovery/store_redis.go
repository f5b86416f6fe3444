package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPointerStore keeps active-session pointers in redis so any API
// process can answer ResumeIfPending for any user.
//
// Pointers carry a TTL well above the interruption grace window; they exist
// to survive client reloads, not process lifetimes. The authoritative
// session record outlives them in Postgres.
type RedisPointerStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPointerStore(rdb *redis.Client, ttl time.Duration) *RedisPointerStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPointerStore{rdb: rdb, ttl: ttl}
}

func pointerKey(userID string) string {
	return fmt.Sprintf("call:active:%s", userID)
}

// clearIfScript deletes the pointer only while it still references the
// given session id. Atomic compare-and-delete: concurrent reconciliation of
// both participants converges without clobbering newer pointers.
var clearIfScript = redis.NewScript(`
-- KEYS[1] = pointer key
-- ARGV[1] = session id
local v = redis.call('GET', KEYS[1])
if not v then
  return 0
end
local ok, p = pcall(cjson.decode, v)
if not ok then
  redis.call('DEL', KEYS[1])
  return 1
end
if p.session_id == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

func (s *RedisPointerStore) Set(ctx context.Context, userID string, p Pointer) error {
	if userID == "" || p.SessionID == "" {
		return errors.New("recovery: user id and session id required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, pointerKey(userID), raw, s.ttl).Err()
}

func (s *RedisPointerStore) Get(ctx context.Context, userID string) (Pointer, bool, error) {
	raw, err := s.rdb.Get(ctx, pointerKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pointer{}, false, nil
		}
		return Pointer{}, false, err
	}
	var p Pointer
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pointer{}, false, err
	}
	return p, true, nil
}

func (s *RedisPointerStore) ClearIf(ctx context.Context, userID, sessionID string) error {
	_, err := clearIfScript.Run(ctx, s.rdb, []string{pointerKey(userID)}, sessionID).Result()
	return err
}

// RedisHeartbeatStore records participant liveness as TTL keys.
type RedisHeartbeatStore struct {
	rdb *redis.Client
}

func NewRedisHeartbeatStore(rdb *redis.Client) *RedisHeartbeatStore {
	return &RedisHeartbeatStore{rdb: rdb}
}

func heartbeatKey(sessionID, userID string) string {
	return fmt.Sprintf("call:hb:%s:%s", sessionID, userID)
}

func (s *RedisHeartbeatStore) Beat(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	if sessionID == "" || userID == "" {
		return errors.New("recovery: session id and user id required")
	}
	if ttl <= 0 {
		return errors.New("recovery: ttl must be > 0")
	}
	return s.rdb.Set(ctx, heartbeatKey(sessionID, userID), "1", ttl).Err()
}

func (s *RedisHeartbeatStore) Alive(ctx context.Context, sessionID, userID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, heartbeatKey(sessionID, userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
