package devicestate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore caches states for ttl; zero means no expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func stateKey(id string) string {
	return "robonav:device:" + id + ":state"
}

const allDevicesKey = "robonav:devices"

func (r *RedisStore) Set(ctx context.Context, s *DeviceState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, stateKey(s.ID), data, r.ttl)
	pipe.SAdd(ctx, allDevicesKey, s.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns nil, nil when the device has no cached state.
func (r *RedisStore) Get(ctx context.Context, id string) (*DeviceState, error) {
	data, err := r.client.Get(ctx, stateKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s DeviceState
	return &s, json.Unmarshal(data, &s)
}

func (r *RedisStore) IDs(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, allDevicesKey).Result()
}

func (r *RedisStore) Remove(ctx context.Context, id string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, stateKey(id))
	pipe.SRem(ctx, allDevicesKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	ids, err := r.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		r.Remove(ctx, id)
	}
	return r.client.Del(ctx, allDevicesKey).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
