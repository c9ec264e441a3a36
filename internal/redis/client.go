// Package redis wraps the go-redis client used by the redis session store and
// the distributed refresh lock.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"session-keeper/internal/common/errors"
)

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.ConfigError("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.ConnectionError("failed to connect to Redis", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// GetGoRedisClient exposes the underlying client for libraries that build
// on go-redis directly (redsync).
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}

// SetValues writes all pairs in one MULTI/EXEC transaction so readers never
// observe half of an update. A zero expiration keeps the keys forever.
func (c *Client) SetValues(ctx context.Context, values map[string]string, expiration time.Duration) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range values {
			pipe.Set(ctx, key, value, expiration)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %d keys: %w", len(values), err)
	}
	return nil
}

// GetValues reads keys with a single MGET. Missing keys come back as "".
func (c *Client) GetValues(ctx context.Context, keys ...string) ([]string, error) {
	raw, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read keys: %w", err)
	}

	values := make([]string, len(keys))
	for i, v := range raw {
		switch typed := v.(type) {
		case string:
			values[i] = typed
		case nil:
		default:
			return nil, errors.InternalError(fmt.Sprintf("unexpected value type %T for key %s", v, keys[i]), nil)
		}
	}
	return values, nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}
