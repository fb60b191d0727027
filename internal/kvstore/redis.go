package kvstore

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "courier:"

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore accepts a redis:// or rediss:// URL. A "prefix" query
// parameter namespaces the keys and is stripped before go-redis parses the
// remaining options.
func NewRedisStore(dsn string) (*RedisStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	prefix := defaultRedisPrefix
	query := parsed.Query()
	if query.Has("prefix") {
		prefix = query.Get("prefix")
		query.Del("prefix")
		parsed.RawQuery = query.Encode()
	}
	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts), prefix: prefix}, nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidInput
	}
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return s.client.Set(ctx, s.prefix+key, cloneBytes(value), 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
