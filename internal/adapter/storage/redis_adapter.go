package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix  = "idempotency:order:"
	idempotencyPending    = "pending"
	DefaultIdempotencyTTL = 24 * time.Hour
)

// releaseScript deletes the key only while it is still pending, so a retry
// can never erase a committed result.
var releaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// completeScript binds the order ID while keeping the remaining TTL.
var completeScript = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
end
return 1
`)

type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (r *RedisIdempotencyStore) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, idempotencyPending, r.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "acquire idempotency key")
	}
	return ok, nil
}

func (r *RedisIdempotencyStore) Lookup(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, idempotencyKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) || val == idempotencyPending {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "lookup idempotency key")
	}

	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "idempotency key %s holds %q", key, val)
	}
	return orderID, nil
}

func (r *RedisIdempotencyStore) Complete(ctx context.Context, key string, orderID int64) error {
	err := completeScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key},
		strconv.FormatInt(orderID, 10), r.ttl.Milliseconds()).Err()
	return errors.Wrap(err, "complete idempotency key")
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	err := releaseScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, idempotencyPending).Err()
	return errors.Wrap(err, "release idempotency key")
}
