package postgres

import (
	"fmt"
	"net/url"
	"strconv"

	"session-keeper/internal/common/errors"
)

type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.ConfigError("PostgreSQL host is required")
	}
	if c.Port <= 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		return errors.ConfigError("PostgreSQL database name is required")
	}
	if c.Username == "" {
		return errors.ConfigError("PostgreSQL username is required")
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}

// GetConnectionString returns a postgres:// URL understood by pgxpool.
func (c *Config) GetConnectionString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// NewConfigFromURL parses a postgres:// URL such as DATABASE_URL.
func NewConfigFromURL(connStr string) (*Config, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, errors.ConfigError("invalid PostgreSQL URL").WithCause(err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported PostgreSQL URL scheme %q", u.Scheme))
	}

	config := &Config{
		Host:     u.Hostname(),
		Port:     5432,
		Username: u.User.Username(),
		SSLMode:  "prefer",
	}
	if len(u.Path) > 1 {
		config.Database = u.Path[1:]
	}
	if u.Port() != "" {
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, errors.ConfigError("invalid PostgreSQL port").WithCause(err)
		}
		config.Port = port
	}
	if password, ok := u.User.Password(); ok {
		config.Password = password
	}
	if sslMode := u.Query().Get("sslmode"); sslMode != "" {
		config.SSLMode = sslMode
	}

	return config, nil
}
