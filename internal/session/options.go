package session

import (
	"time"

	"session-keeper/internal/common/logging"
	"session-keeper/internal/expiry"
	"session-keeper/internal/locks"
)

const (
	// DefaultPollInterval is the sleep between two ticks of the refresh loop.
	DefaultPollInterval = 10 * time.Second
	// DefaultMargin is how long before expiry the access token is refreshed.
	DefaultMargin = 60 * time.Second
	// DefaultLockKey names the cross-process refresh lock.
	DefaultLockKey = "user-session-refresh"

	storeTimeout = 10 * time.Second
)

// Hooks observe the loop. They run on the loop goroutine and must not block.
type Hooks struct {
	OnLoopStart func(generation uint64)
	OnLoopExit  func(generation uint64)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithPolicy replaces the expiry policy.
func WithPolicy(policy *expiry.Policy) Option {
	return func(m *Manager) {
		if policy != nil {
			m.policy = policy
		}
	}
}

// WithClock is shorthand for WithPolicy(expiry.New(expiry.WithClock(now))).
func WithClock(now func() time.Time) Option {
	return WithPolicy(expiry.New(expiry.WithClock(now)))
}

// WithPollInterval sets the sleep between ticks.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithMargin sets the proactive refresh margin.
func WithMargin(margin time.Duration) Option {
	return func(m *Manager) {
		if margin >= 0 {
			m.margin = margin
		}
	}
}

// WithLocker serializes refreshes with other processes sharing the store.
// An empty key uses DefaultLockKey.
func WithLocker(locker locks.RefreshLocker, key string) Option {
	return func(m *Manager) {
		m.locker = locker
		if key != "" {
			m.lockKey = key
		}
	}
}

// WithHooks installs loop observers.
func WithHooks(hooks Hooks) Option {
	return func(m *Manager) {
		m.hooks = hooks
	}
}
