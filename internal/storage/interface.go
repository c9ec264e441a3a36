// Package storage persists the user-session credential pair across process
// restarts.
//
// Only the refresh token and the last user-session access token are stored.
// Backends register a Factory under their store type (see Register); the
// memory backend is built in, the sqlite, postgres and redis backends live in
// sub-packages and register themselves when imported.
package storage

import (
	"context"
	"io"

	"session-keeper/internal/redis"
)

// Keys under which the credential pair is stored by key-value backends.
const (
	RefreshTokenKey = "user_session_refresh_token"
	AccessTokenKey  = "user_session_access_token"
)

// SessionStore is durable storage for the user-session credential pair.
// Missing values load as empty strings and the last Save wins.
type SessionStore interface {
	Save(ctx context.Context, refreshToken, accessToken string) error
	Load(ctx context.Context) (refreshToken, accessToken string, err error)
}

// SettingsStorage is a key-value table such as the settings table of the
// SQL backends. SetSettings must write all values or none.
type SettingsStorage interface {
	GetSettings(ctx context.Context, keys ...string) (map[string]string, error)
	SetSettings(ctx context.Context, values map[string]string) error
}

// Options carries what a Factory may need to build a backend.
type Options struct {
	DatabasePath string

	// DatabaseURL takes precedence over the discrete Postgres fields.
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	Redis     *redis.Client
	KeyPrefix string
}

// Factory builds one kind of SessionStore.
type Factory interface {
	Create(ctx context.Context, opts Options) (SessionStore, error)
	GetType() string
}

// HealthChecker is implemented by backends that can report whether they are
// reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Health checks store when it implements HealthChecker and reports nil
// otherwise.
func Health(ctx context.Context, store SessionStore) error {
	if checker, ok := store.(HealthChecker); ok {
		return checker.Health(ctx)
	}
	return nil
}

// Close releases the resources of store when it holds any.
func Close(store SessionStore) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
