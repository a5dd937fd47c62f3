package dialer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore adapts a go-redis client to the QueueStore contract. It accepts
// redis.Cmdable so a single client, a cluster client, or a pipeline-capable
// mock all fit.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) LPush(ctx context.Context, key string, val []byte) error {
	if err := r.rdb.LPush(ctx, key, val).Err(); err != nil {
		return fmt.Errorf("dialer: lpush %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) RPush(ctx context.Context, key string, val []byte) error {
	if err := r.rdb.RPush(ctx, key, val).Err(); err != nil {
		return fmt.Errorf("dialer: rpush %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) LPop(ctx context.Context, key string) ([]byte, error) {
	val, err := r.rdb.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dialer: lpop %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member []byte) error {
	if err := r.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("dialer: zadd %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) ZPopUpTo(ctx context.Context, key string, max float64) ([][]byte, error) {
	members, err := r.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("dialer: zrangebyscore %s: %w", key, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(members))
	out := make([][]byte, len(members))
	for i, m := range members {
		args[i] = m
		out[i] = []byte(m)
	}
	if err := r.rdb.ZRem(ctx, key, args...).Err(); err != nil {
		return nil, fmt.Errorf("dialer: zrem %s: %w", key, err)
	}
	return out, nil
}

func (r *RedisStore) SAdd(ctx context.Context, key, member string) error {
	if err := r.rdb.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("dialer: sadd %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) SRem(ctx context.Context, key, member string) error {
	if err := r.rdb.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("dialer: srem %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("dialer: smembers %s: %w", key, err)
	}
	return members, nil
}

var _ QueueStore = (*RedisStore)(nil)
