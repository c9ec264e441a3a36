package app

import (
	"context"

	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/storage"

	_ "session-keeper/internal/storage/postgres"
	_ "session-keeper/internal/storage/redisstore"
	_ "session-keeper/internal/storage/sqlite"
)

func (app *App) initializeStorage(ctx context.Context) error {
	switch app.Config.StoreType {
	case "postgres", "postgresql":
		app.Logger.Info("Session store: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "port", Value: app.Config.PostgresPort},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)
	case "sqlite":
		app.Logger.Info("Session store: SQLite", logging.Field{Key: "path", Value: app.Config.DatabasePath})
	default:
		app.Logger.Info("Session store", logging.Field{Key: "type", Value: app.Config.StoreType})
	}

	store, err := storage.NewFromConfig(ctx, app.Config, app.RedisClient)
	if err != nil {
		if _, ok := err.(*errors.AppError); ok {
			return err
		}
		return errors.InternalError("failed to initialize session store", err)
	}

	app.Store = store
	return nil
}
