package sqlite

import (
	"session-keeper/internal/common/errors"
)

type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.ConfigError("database path is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

// GetConnectionString returns the DSN handed to the sqlite3 driver. WAL and a
// busy timeout let a second process read while the first one writes.
func (c *Config) GetConnectionString() string {
	if c.DatabasePath == ":memory:" {
		return c.DatabasePath
	}
	return "file:" + c.DatabasePath + "?_journal_mode=WAL&_busy_timeout=5000"
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./session_keeper.db",
	}
}
