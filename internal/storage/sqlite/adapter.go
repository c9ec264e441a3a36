// Package sqlite stores the user session in the settings table of a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"session-keeper/internal/common/errors"
	"session-keeper/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

// NewAdapter opens the database and creates the settings table if needed.
func NewAdapter(ctx context.Context, config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", config.GetConnectionString())
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}

	return adapter, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// GetSettings returns the values stored under keys; missing keys are absent
// from the result.
func (a *Adapter) GetSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	settings := make(map[string]string, len(keys))
	for _, key := range keys {
		var value string
		err := a.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read setting %s: %w", key, err)
		}
		settings[key] = value
	}
	return settings, nil
}

// SetSettings upserts all values in one transaction.
func (a *Adapter) SetSettings(ctx context.Context, values map[string]string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for key, value := range values {
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)`, key, value)
		if err != nil {
			return fmt.Errorf("failed to write setting %s: %w", key, err)
		}
	}

	return tx.Commit()
}

type Factory struct{}

func (f *Factory) Create(ctx context.Context, opts storage.Options) (storage.SessionStore, error) {
	adapter, err := NewAdapter(ctx, &Config{DatabasePath: opts.DatabasePath})
	if err != nil {
		return nil, err
	}
	return storage.NewSettingsStore(adapter), nil
}

func (f *Factory) GetType() string {
	return "sqlite"
}

func init() {
	storage.Register("sqlite", &Factory{})
}
