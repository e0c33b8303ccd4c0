package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 24 * time.Hour
	pending    = "__pending__"
)

var ErrInProgress = errors.New("request in progress")

// Store claims idempotency keys and remembers the response for a key once
// the request that claimed it has finished.
type Store interface {
	// Begin claims key. It returns the stored response when the key was
	// already completed, and ErrInProgress while another request holds it.
	Begin(ctx context.Context, key string) ([]byte, error)
	Complete(ctx context.Context, key string, response []byte) error
	Release(ctx context.Context, key string) error
}

// Client is the part of the redis client the store needs.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisStore struct {
	client      Client
	serviceName string
	ttl         time.Duration
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func NewRedisStore(client Client, serviceName string, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisStore{client: client, serviceName: serviceName, ttl: ttl}
}

func (s *redisStore) key(k string) string {
	return fmt.Sprintf("%s:idempotency:%s", s.serviceName, k)
}

func (s *redisStore) Begin(ctx context.Context, key string) ([]byte, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), pending, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		// expired between the two calls; treat as a fresh claim
		return s.Begin(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	if val == pending {
		return nil, ErrInProgress
	}
	return []byte(val), nil
}

func (s *redisStore) Complete(ctx context.Context, key string, response []byte) error {
	return s.client.Set(ctx, s.key(key), response, s.ttl).Err()
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
