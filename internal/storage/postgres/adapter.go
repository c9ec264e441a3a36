// Package postgres stores the user session in a settings table on
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"session-keeper/internal/common/errors"
	"session-keeper/internal/storage"
)

type Adapter struct {
	pool   *pgxpool.Pool
	config *Config
}

// NewAdapter connects, verifies the connection and creates the settings
// table if needed.
func NewAdapter(ctx context.Context, config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(config.GetConnectionString())
	if err != nil {
		return nil, errors.ConfigError("invalid PostgreSQL connection settings").WithCause(err)
	}
	poolConfig.MaxConns = 4

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, errors.ConnectionError("failed to create connection pool", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	adapter := &Adapter{
		pool:   pool,
		config: config,
	}

	if err := adapter.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}

	return adapter, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) GetSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	rows, err := a.pool.Query(ctx, "SELECT key, value FROM settings WHERE key = ANY($1)", keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	settings := make(map[string]string, len(keys))
	var key, value string
	_, err = pgx.ForEachRow(rows, []any{&key, &value}, func() error {
		settings[key] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan settings: %w", err)
	}
	return settings, nil
}

// SetSettings upserts all values in one transaction.
func (a *Adapter) SetSettings(ctx context.Context, values map[string]string) error {
	return pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for key, value := range values {
			batch.Queue(`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, key, value)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write settings: %w", err)
		}
		return nil
	})
}

type Factory struct{}

func (f *Factory) Create(ctx context.Context, opts storage.Options) (storage.SessionStore, error) {
	config := &Config{
		Host:     opts.PostgresHost,
		Port:     opts.PostgresPort,
		Database: opts.PostgresDB,
		Username: opts.PostgresUser,
		Password: opts.PostgresPassword,
		SSLMode:  opts.PostgresSSLMode,
	}
	if opts.DatabaseURL != "" {
		parsed, err := NewConfigFromURL(opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		config = parsed
	}

	adapter, err := NewAdapter(ctx, config)
	if err != nil {
		return nil, err
	}
	return storage.NewSettingsStore(adapter), nil
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
