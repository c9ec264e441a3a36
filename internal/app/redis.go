package app

import (
	"session-keeper/internal/common/logging"
	"session-keeper/internal/locks"
	"session-keeper/internal/redis"
)

func (app *App) initializeRedis() error {
	if !app.Config.UsesRedis() {
		app.Logger.Info("Redis: Not configured (distributed refresh lock disabled)")
		return nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	})
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}

func (app *App) initializeLocker() error {
	if !app.Config.DistributedLock {
		return nil
	}

	locker, err := locks.NewRedsyncLocker(app.RedisClient,
		locks.WithLogger(app.Logger.WithFields(logging.Field{Key: "component", Value: "locks"})),
	)
	if err != nil {
		return err
	}

	app.Locker = locker
	app.Logger.Info("Distributed Locks: Enabled")
	return nil
}
