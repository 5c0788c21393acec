package store

import (
	"context"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const redisKeyPrefix = "tokenrunner:"

// RedisStore keeps one string value per namespace
type RedisStore struct {
	rd *redis.Client
}

// NewRedisStore connects to the Redis server at url (redis://host:port/db)
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	rd := redis.NewClient(opts)
	if err := rd.Ping(ctx).Err(); err != nil {
		rd.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", opts.Addr)
	}
	return &RedisStore{rd: rd}, nil
}

func (r *RedisStore) Get(ctx context.Context, namespace string) ([]byte, error) {
	doc, err := r.rd.Get(ctx, redisKeyPrefix+namespace).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", namespace)
	}
	return doc, nil
}

func (r *RedisStore) Set(ctx context.Context, namespace string, doc []byte) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}
	return errors.Wrapf(r.rd.Set(ctx, redisKeyPrefix+namespace, doc, 0).Err(), "redis set %s", namespace)
}

func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.rd.Scan(ctx, 0, redisKeyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan")
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisStore) Close() error {
	return r.rd.Close()
}
