package codes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "codes:"

// consumeScript deletes the key only when it still holds the value the caller
// read, so two concurrent verifications cannot both succeed.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps one key per (channel, identifier) pair with a TTL equal to
// the code lifetime. Consumed codes are deleted rather than flagged.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore over an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(identifier, channel string) string {
	return redisKeyPrefix + channel + ":" + identifier
}

func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode code entry: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	return s.client.Set(ctx, redisKey(entry.Identifier, entry.Channel), raw, ttl).Err()
}

func (s *RedisStore) Consume(ctx context.Context, identifier, channel string, now time.Time, match func(string) bool) error {
	key := redisKey(identifier, channel)

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNoEntry
	}
	if err != nil {
		return fmt.Errorf("failed to read code entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("failed to decode code entry: %w", err)
	}
	if !entry.Valid(now) || !match(entry.Code) {
		return ErrNoEntry
	}

	deleted, err := consumeScript.Run(ctx, s.client, []string{key}, raw).Int()
	if err != nil {
		return fmt.Errorf("failed to consume code entry: %w", err)
	}
	if deleted == 0 {
		return ErrNoEntry
	}
	return nil
}

// Purge is a no-op; Redis expires keys on its own.
func (s *RedisStore) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}
