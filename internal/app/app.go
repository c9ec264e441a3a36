package app

import (
	"context"

	"session-keeper/internal/access"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/config"
	"session-keeper/internal/exchange"
	"session-keeper/internal/locks"
	"session-keeper/internal/login"
	"session-keeper/internal/redis"
	"session-keeper/internal/server"
	"session-keeper/internal/session"
	"session-keeper/internal/storage"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Store       storage.SessionStore
	Locker      locks.RefreshLocker
	Exchange    *exchange.HTTPClient
	Sessions    *session.Manager
	Access      *access.Manager
	Login       *login.Controller
	Server      *server.Server
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies. Loops of
// the managers end when ctx is done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeRedis(); err != nil {
		return nil, err
	}

	if err := app.initializeStorage(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeLocker(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeExchange()
	app.initializeManagers(ctx)
	app.initializeServer()

	return app, nil
}

// Shutdown stops the callback server and the refresh loops. The stored
// session is kept so the next start resumes it.
func (app *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if app.Server != nil {
		if err := app.Server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if app.Access != nil {
		app.Access.Close()
	}
	if app.Sessions != nil {
		app.Sessions.Close()
	}
	return firstErr
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Access != nil {
		app.Access.Close()
	}
	if app.Sessions != nil {
		app.Sessions.Close()
	}
	if app.Store != nil {
		if err := storage.Close(app.Store); err != nil {
			app.Logger.Warn("Failed to close session store", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
