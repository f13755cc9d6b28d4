package pause

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisFlag pauses every consumer watching the same key. The gate is
// paused while the key holds a truthy value ("1", "true", "yes", "on").
// Read errors are logged and treated as not paused.
type RedisFlag struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisFlag creates a gate on key.
func NewRedisFlag(client *redis.Client, key string, logger *slog.Logger) *RedisFlag {
	return &RedisFlag{client: client, key: key, logger: logger}
}

// IsPaused reads the flag.
func (f *RedisFlag) IsPaused(ctx context.Context) bool {
	val, err := f.client.Get(ctx, f.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			f.logger.Warn("failed to read pause flag", "key", f.key, "error", err)
		}
		return false
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Pause sets the flag.
func (f *RedisFlag) Pause(ctx context.Context) error {
	return f.client.Set(ctx, f.key, "1", 0).Err()
}

// Resume clears the flag.
func (f *RedisFlag) Resume(ctx context.Context) error {
	return f.client.Del(ctx, f.key).Err()
}

// SetPaused sets or clears the flag.
func (f *RedisFlag) SetPaused(ctx context.Context, paused bool) error {
	if paused {
		return f.Pause(ctx)
	}
	return f.Resume(ctx)
}

var (
	_ Switch = (*Manual)(nil)
	_ Switch = (*RedisFlag)(nil)
)
