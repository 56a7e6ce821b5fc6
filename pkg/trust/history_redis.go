package trust

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisRecordScript atomically appends a decision to a principal's
// sliding-window sorted set and trims it to the configured window size:
// one script, one round trip, no read-modify-write race.
//
// KEYS[1] = history key (e.g. "trust_history:user:123")
// ARGV[1] = member (JSON-encoded Decision)
// ARGV[2] = score (unix timestamp, used for ordering)
// ARGV[3] = window size to retain
var redisRecordScript = redis.NewScript(`
local key = KEYS[1]
local member = ARGV[1]
local score = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

redis.call("ZADD", key, score, member)

local count = redis.call("ZCARD", key)
if count > window then
    redis.call("ZREMRANGEBYRANK", key, 0, count - window - 1)
end

redis.call("EXPIRE", key, 2592000)
return redis.call("ZCARD", key)
`)

// RedisHistoryStore is a HistoryStore backed by a Redis sorted set per
// principal, keeping the most recent Window decisions.
type RedisHistoryStore struct {
	client *redis.Client
	window int
}

// NewRedisHistoryStore constructs a store retaining window decisions per
// principal, connecting to the Redis instance at addr.
func NewRedisHistoryStore(addr, password string, db, window int) *RedisHistoryStore {
	if window <= 0 {
		window = 100
	}
	return &RedisHistoryStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		window: window,
	}
}

func (s *RedisHistoryStore) key(principalID string) string {
	return fmt.Sprintf("trust_history:%s", principalID)
}

// Record appends d to the principal's history and trims it to the
// configured window.
func (s *RedisHistoryStore) Record(ctx context.Context, principalID string, d Decision) error {
	member, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("trust: marshal decision: %w", err)
	}

	score := float64(d.Timestamp.UnixNano())
	if err := redisRecordScript.Run(ctx, s.client, []string{s.key(principalID)}, string(member), score, s.window).Err(); err != nil {
		return fmt.Errorf("trust: record history: %w", err)
	}
	return nil
}

// Recent returns up to limit of the principal's most recent decisions,
// oldest first.
func (s *RedisHistoryStore) Recent(ctx context.Context, principalID string, limit int) ([]Decision, error) {
	if limit <= 0 || limit > s.window {
		limit = s.window
	}

	members, err := s.client.ZRevRangeWithScores(ctx, s.key(principalID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("trust: fetch history: %w", err)
	}

	out := make([]Decision, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		var d Decision
		raw, ok := members[i].Member.(string)
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
