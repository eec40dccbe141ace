package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a guard shared by every worker connected to the same Redis. Locks
// expire after ttl so a crashed worker cannot block an asset forever.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedis creates a Redis guard. ttl should exceed the longest expected run.
func NewRedis(client redis.UniversalClient, ttl time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = "simple-media:run:"
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix, logger: slog.Default()}
}

// Acquire claims key with SET NX PX.
func (g *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.prefix+key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, g.client, []string{g.prefix + key}, token).Err(); err != nil {
				g.logger.Warn("failed to release run lock", "key", key, "err", err)
			}
		})
	}, nil
}
