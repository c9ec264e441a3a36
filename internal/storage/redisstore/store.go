// Package redisstore keeps the user session in Redis so that several
// session-keeper instances can share one login.
package redisstore

import (
	"context"
	"time"

	"session-keeper/internal/common/errors"
	"session-keeper/internal/redis"
	"session-keeper/internal/storage"
)

// DefaultKeyPrefix namespaces the session keys.
const DefaultKeyPrefix = "session:"

// Client is the subset of the redis client the store needs.
type Client interface {
	SetValues(ctx context.Context, values map[string]string, expiration time.Duration) error
	GetValues(ctx context.Context, keys ...string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// Store is a SessionStore backed by two Redis keys written atomically.
// The keys never expire; an expired session is detected from the tokens.
type Store struct {
	client Client
	prefix string
}

// New creates a Store. An empty prefix uses DefaultKeyPrefix.
func New(client Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Health pings Redis when the client supports it.
func (s *Store) Health(ctx context.Context) error {
	if checker, ok := s.client.(storage.HealthChecker); ok {
		return checker.Health(ctx)
	}
	return nil
}

func (s *Store) refreshKey() string {
	return s.prefix + storage.RefreshTokenKey
}

func (s *Store) accessKey() string {
	return s.prefix + storage.AccessTokenKey
}

// Save writes both keys at once. Saving the empty pair deletes them.
func (s *Store) Save(ctx context.Context, refreshToken, accessToken string) error {
	if refreshToken == "" && accessToken == "" {
		if err := s.client.Delete(ctx, s.refreshKey(), s.accessKey()); err != nil {
			return errors.ConnectionError("failed to clear user session in Redis", err)
		}
		return nil
	}

	err := s.client.SetValues(ctx, map[string]string{
		s.refreshKey(): refreshToken,
		s.accessKey():  accessToken,
	}, 0)
	if err != nil {
		return errors.ConnectionError("failed to save user session to Redis", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (string, string, error) {
	values, err := s.client.GetValues(ctx, s.refreshKey(), s.accessKey())
	if err != nil {
		return "", "", errors.ConnectionError("failed to load user session from Redis", err)
	}
	return values[0], values[1], nil
}

type Factory struct{}

func (f *Factory) Create(ctx context.Context, opts storage.Options) (storage.SessionStore, error) {
	if opts.Redis == nil {
		return nil, errors.ConfigError("redis store requires a Redis client")
	}
	return New(opts.Redis, opts.KeyPrefix), nil
}

func (f *Factory) GetType() string {
	return "redis"
}

func init() {
	storage.Register("redis", &Factory{})
}

var _ Client = (*redis.Client)(nil)
