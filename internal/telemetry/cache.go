package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds the fast-read projection of each device's latest known
// state, backing the action façade's pre-condition check (reading it is
// cheaper and tolerates more staleness than querying Postgres directly).
type Cache interface {
	GetState(ctx context.Context, deviceID string) (string, error)
	SetState(ctx context.Context, deviceID, stateName string, ts time.Time) error
}

// RedisCache implements Cache over go-redis. Keys never expire — they are
// overwritten on every state-changing event, matching a live fleet where
// "last known state" should persist across device disconnects.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func stateKey(deviceID string) string    { return "mower:state:" + deviceID }
func lastSeenKey(deviceID string) string { return "mower:lastseen:" + deviceID }

func (c *RedisCache) GetState(ctx context.Context, deviceID string) (string, error) {
	val, err := c.rdb.Get(ctx, stateKey(deviceID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("telemetry: get state for %s: %w", deviceID, err)
	}
	return val, nil
}

func (c *RedisCache) SetState(ctx context.Context, deviceID, stateName string, ts time.Time) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, stateKey(deviceID), stateName, 0)
	pipe.Set(ctx, lastSeenKey(deviceID), strconv.FormatInt(ts.Unix(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("telemetry: set state for %s: %w", deviceID, err)
	}
	return nil
}
