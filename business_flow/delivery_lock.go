package businessflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/amirphl/broadcast-hub/utils"
)

var errLockHeld = errors.New("lock held by another owner")

var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// DeliveryLocker serializes materialize calls of one broadcast
type DeliveryLocker interface {
	Acquire(ctx context.Context, broadcastID uint) (release func(), err error)
}

// RedisDeliveryLocker holds a per-broadcast lock in redis using SET NX with a TTL.
// Only the owner token can release it.
type RedisDeliveryLocker struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeliveryLocker(rc *redis.Client, prefix string, ttl time.Duration) *RedisDeliveryLocker {
	if ttl <= 0 {
		ttl = utils.MaterializeLockTTL
	}
	return &RedisDeliveryLocker{rc: rc, prefix: prefix, ttl: ttl}
}

func (l *RedisDeliveryLocker) key(broadcastID uint) string {
	return redisKey(l.prefix, fmt.Sprintf(utils.MaterializeLockKey, broadcastID))
}

// Acquire returns errLockHeld when another caller owns the lock
func (l *RedisDeliveryLocker) Acquire(ctx context.Context, broadcastID uint) (func(), error) {
	key := l.key(broadcastID)
	token := uuid.NewString()

	ok, err := l.rc.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, errLockHeld
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseLockScript.Run(releaseCtx, l.rc, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to release materialize lock")
		}
	}, nil
}

// NoopDeliveryLocker is used when redis is not configured
type NoopDeliveryLocker struct{}

func (NoopDeliveryLocker) Acquire(context.Context, uint) (func(), error) {
	return func() {}, nil
}

func redisKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
