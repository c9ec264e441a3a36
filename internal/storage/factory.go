package storage

import (
	"context"

	"session-keeper/internal/config"
	"session-keeper/internal/redis"
)

// NewFromConfig creates the session store selected by STORE_TYPE. The
// backend's package must have been imported so its factory is registered.
// redisClient is only used by the redis backend.
func NewFromConfig(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (SessionStore, error) {
	storeType := cfg.StoreType
	if storeType == "postgresql" {
		storeType = "postgres"
	}

	return Create(ctx, storeType, Options{
		DatabasePath:     cfg.DatabasePath,
		DatabaseURL:      cfg.DatabaseURL,
		PostgresHost:     cfg.PostgresHost,
		PostgresPort:     cfg.PostgresPort,
		PostgresDB:       cfg.PostgresDB,
		PostgresUser:     cfg.PostgresUser,
		PostgresPassword: cfg.PostgresPassword,
		PostgresSSLMode:  cfg.PostgresSSLMode,
		Redis:            redisClient,
	})
}
