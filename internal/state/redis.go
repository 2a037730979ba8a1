package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type redisStore struct {
	rdb       *redis.Client
	namespace string
}

func openRedis(dsn, namespace string) (*redisStore, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing redis dsn: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &redisStore{rdb: rdb, namespace: namespace}, nil
}

func redisKey(namespace, key string) string {
	return "dailycapture:" + namespace + ":" + key
}

func (r *redisStore) get(ctx context.Context, key string) (int64, error) {
	v, err := r.rdb.Get(ctx, redisKey(r.namespace, key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *redisStore) set(ctx context.Context, key string, value int64) error {
	return r.rdb.Set(ctx, redisKey(r.namespace, key), value, 0).Err()
}

func (r *redisStore) close() error {
	return r.rdb.Close()
}
