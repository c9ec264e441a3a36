// Package config loads session-keeper configuration from environment
// variables with defaults, and validates it before the application starts.
//
// Environment Variables:
//
// Logging:
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path; stdout when empty
//
// Endpoints:
//   - SIGN_IN_ENDPOINT: Browser sign-in page
//   - SIGN_OUT_ENDPOINT: Sign-out page, called best-effort on logout
//   - IDENTITY_ENDPOINT: Refresh-token exchange endpoint
//   - ACCESS_ENDPOINT: Service access-token exchange endpoint
//   - REDIRECT_TYPE: redirectType passed to the sign-in page (default: unity-app)
//
// Refresh timing (Go durations, plus "d" and "w"):
//   - POLL_INTERVAL: Sleep between refresh loop ticks (default: 10s)
//   - USER_SESSION_MARGIN: Proactive refresh window for the user session (default: 60s)
//   - SERVICE_ACCESS_MARGIN: Proactive refresh window for service access (default: 60s)
//   - HTTP_TIMEOUT: Timeout for one exchange request (default: 30s)
//
// Session store:
//   - STORE_TYPE: memory, sqlite, postgres or redis (default: sqlite)
//   - DATABASE_PATH: SQLite database file (default: ./session_keeper.db)
//   - DATABASE_URL: PostgreSQL URL; overrides the POSTGRES_* variables
//   - POSTGRES_HOST, POSTGRES_PORT (5432), POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE (disable)
//
// Redis (redis store and distributed refresh lock):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Connection pool size (default: 10)
//   - DISTRIBUTED_LOCK: Serialize user-session refreshes across instances (default: false)
//
// Callback server:
//   - CALLBACK_ADDRESS: Listen address of the login callback server (default: 127.0.0.1:8765)
package config

import (
	"os"
	"strconv"
	"time"

	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/utils"
	"session-keeper/internal/common/validation"
)

const (
	DefaultSignInEndpoint   = "https://sample-app-frontend-internal.nianticspatial.com/signin"
	DefaultSignOutEndpoint  = "https://sample-app-frontend-internal.nianticspatial.com/signout"
	DefaultIdentityEndpoint = "https://spatial-identity.nianticspatial.com/oauth/token"
	DefaultAccessEndpoint   = "https://sample-app-backend-internal.nianticspatial.com/api/access-token"
)

// Config holds all configuration parameters for session-keeper.
type Config struct {
	LogLevel string
	LogFile  string

	SignInEndpoint   string
	SignOutEndpoint  string
	IdentityEndpoint string
	AccessEndpoint   string
	RedirectType     string

	PollInterval        time.Duration
	UserSessionMargin   time.Duration
	ServiceAccessMargin time.Duration
	HTTPTimeout         time.Duration

	StoreType        string
	DatabasePath     string
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RedisAddress    string
	RedisPassword   string
	RedisDB         int
	RedisPoolSize   int
	DistributedLock bool

	CallbackAddress string

	// parse errors collected by Load and reported by Validate
	invalid []string
}

// Load reads the configuration from the environment. Values that fail to
// parse keep their default and are reported by Validate.
func Load() *Config {
	c := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		SignInEndpoint:   getEnv("SIGN_IN_ENDPOINT", DefaultSignInEndpoint),
		SignOutEndpoint:  getEnv("SIGN_OUT_ENDPOINT", DefaultSignOutEndpoint),
		IdentityEndpoint: getEnv("IDENTITY_ENDPOINT", DefaultIdentityEndpoint),
		AccessEndpoint:   getEnv("ACCESS_ENDPOINT", DefaultAccessEndpoint),
		RedirectType:     getEnv("REDIRECT_TYPE", "unity-app"),

		StoreType:        getEnv("STORE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./session_keeper.db"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresDB:       getEnv("POSTGRES_DB", ""),
		PostgresUser:     getEnv("POSTGRES_USER", ""),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:    getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		DistributedLock: getBoolEnv("DISTRIBUTED_LOCK", false),

		CallbackAddress: getEnv("CALLBACK_ADDRESS", "127.0.0.1:8765"),
	}

	c.PollInterval = c.getDurationEnv("POLL_INTERVAL", 10*time.Second)
	c.UserSessionMargin = c.getDurationEnv("USER_SESSION_MARGIN", 60*time.Second)
	c.ServiceAccessMargin = c.getDurationEnv("SERVICE_ACCESS_MARGIN", 60*time.Second)
	c.HTTPTimeout = c.getDurationEnv("HTTP_TIMEOUT", 30*time.Second)
	c.PostgresPort = c.getIntEnv("POSTGRES_PORT", 5432)
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)

	return c
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.StoreType == "redis" || c.DistributedLock
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings; anything else yields
// the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.invalid = append(c.invalid, key+" must be an integer")
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := utils.ParseDuration(value)
	if err != nil {
		c.invalid = append(c.invalid, key+" must be a valid duration (e.g. '10s', '1m')")
		return defaultValue
	}
	return parsed
}

// Validate checks the loaded configuration and returns a ConfigError
// describing the first problem found.
func (c *Config) Validate() error {
	if len(c.invalid) > 0 {
		return errors.ConfigError(c.invalid[0])
	}

	v := validation.NewValidator()
	v.RequireHTTPURL(c.SignInEndpoint, "SIGN_IN_ENDPOINT").
		RequireHTTPURL(c.SignOutEndpoint, "SIGN_OUT_ENDPOINT").
		RequireHTTPURL(c.IdentityEndpoint, "IDENTITY_ENDPOINT").
		RequireHTTPURL(c.AccessEndpoint, "ACCESS_ENDPOINT")

	v.RequirePositiveDuration(c.PollInterval, "POLL_INTERVAL").
		RequireNonNegativeDuration(c.UserSessionMargin, "USER_SESSION_MARGIN").
		RequireNonNegativeDuration(c.ServiceAccessMargin, "SERVICE_ACCESS_MARGIN").
		RequirePositiveDuration(c.HTTPTimeout, "HTTP_TIMEOUT")

	v.RequireOneOf(c.StoreType, []string{"memory", "sqlite", "postgres", "postgresql", "redis"}, "STORE_TYPE")

	v.ValidateIf(c.StoreType == "sqlite", func(v *validation.Validator) {
		v.RequireString(c.DatabasePath, "DATABASE_PATH")
	})

	v.ValidateIf((c.StoreType == "postgres" || c.StoreType == "postgresql") && c.DatabaseURL == "", func(v *validation.Validator) {
		v.RequireString(c.PostgresHost, "POSTGRES_HOST").
			RequireString(c.PostgresDB, "POSTGRES_DB").
			RequireString(c.PostgresUser, "POSTGRES_USER").
			RequireRange(c.PostgresPort, 1, 65535, "POSTGRES_PORT")
	})

	v.ValidateIf(c.UsesRedis(), func(v *validation.Validator) {
		v.RequireString(c.RedisAddress, "REDIS_ADDRESS").
			RequireRange(c.RedisDB, 0, 15, "REDIS_DB").
			RequirePositive(c.RedisPoolSize, "REDIS_POOL_SIZE")
	})

	v.RequireString(c.CallbackAddress, "CALLBACK_ADDRESS")

	if err := v.Error(); err != nil {
		return errors.ConfigError(err.Error())
	}
	return nil
}
