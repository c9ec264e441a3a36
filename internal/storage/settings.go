package storage

import (
	"context"
	"io"

	"session-keeper/internal/common/errors"
)

// SettingsStore maps the credential pair onto a SettingsStorage.
type SettingsStore struct {
	settings SettingsStorage
}

// NewSettingsStore wraps settings as a SessionStore.
func NewSettingsStore(settings SettingsStorage) *SettingsStore {
	return &SettingsStore{settings: settings}
}

// Save writes both tokens in one call.
func (s *SettingsStore) Save(ctx context.Context, refreshToken, accessToken string) error {
	err := s.settings.SetSettings(ctx, map[string]string{
		RefreshTokenKey: refreshToken,
		AccessTokenKey:  accessToken,
	})
	if err != nil {
		return errors.InternalError("failed to save user session", err)
	}
	return nil
}

// Load reads both tokens; absent keys are returned as "".
func (s *SettingsStore) Load(ctx context.Context) (string, string, error) {
	values, err := s.settings.GetSettings(ctx, RefreshTokenKey, AccessTokenKey)
	if err != nil {
		return "", "", errors.InternalError("failed to load user session", err)
	}
	return values[RefreshTokenKey], values[AccessTokenKey], nil
}

// Health pings the underlying settings storage when it supports it.
func (s *SettingsStore) Health(ctx context.Context) error {
	if checker, ok := s.settings.(HealthChecker); ok {
		return checker.Health(ctx)
	}
	return nil
}

// Close closes the underlying settings storage if it is closable.
func (s *SettingsStore) Close() error {
	if closer, ok := s.settings.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
