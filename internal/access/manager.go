// Package access keeps a service access token fresh by exchanging the user
// session's access token for it.
package access

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"session-keeper/internal/common/logging"
	"session-keeper/internal/common/utils"
	"session-keeper/internal/exchange"
	"session-keeper/internal/expiry"
)

const (
	// DefaultPollInterval is the sleep between two ticks of the access loop.
	DefaultPollInterval = 10 * time.Second
	// DefaultMargin is how long before expiry the service token is renewed.
	DefaultMargin = 60 * time.Second
)

type serviceToken struct {
	accessToken string
	expiresAt   int64
}

var emptyToken = &serviceToken{}

type loopHandle struct {
	id         string
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

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

// WithClock replaces the wall clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.policy = expiry.New(expiry.WithClock(now))
	}
}

// WithPollInterval sets the sleep between ticks.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithMargin sets the proactive renewal margin.
func WithMargin(margin time.Duration) Option {
	return func(m *Manager) {
		if margin >= 0 {
			m.margin = margin
		}
	}
}

// WithHooks installs loop observers.
func WithHooks(hooks Hooks) Option {
	return func(m *Manager) {
		m.hooks = hooks
	}
}

// Manager is the service access manager. The service token is never
// persisted.
type Manager struct {
	exchanger exchange.ServiceAccessExchanger
	policy    *expiry.Policy
	logger    logging.Logger
	hooks     Hooks

	pollInterval time.Duration
	margin       time.Duration

	lifetime context.Context
	shutdown context.CancelFunc

	lifecycle sync.Mutex

	mu         sync.Mutex
	generation uint64
	loop       *loopHandle
	closed     bool

	seed    atomic.Pointer[string]
	current atomic.Pointer[serviceToken]
}

// New creates an idle Manager. Loops end when ctx is done or Close is called.
func New(ctx context.Context, exchanger exchange.ServiceAccessExchanger, opts ...Option) *Manager {
	m := &Manager{
		exchanger:    exchanger,
		policy:       expiry.New(),
		pollInterval: DefaultPollInterval,
		margin:       DefaultMargin,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "service_access"})
	}

	m.lifetime, m.shutdown = context.WithCancel(ctx)
	empty := ""
	m.seed.Store(&empty)
	m.current.Store(emptyToken)
	return m
}

// CurrentServiceAccessToken returns the held service token, "" when none.
func (m *Manager) CurrentServiceAccessToken() string {
	return m.current.Load().accessToken
}

// CurrentServiceAccessTokenExpiresAt returns the service token expiry in unix
// seconds, 0 when unknown.
func (m *Manager) CurrentServiceAccessTokenExpiresAt() int64 {
	return m.current.Load().expiresAt
}

// HasServiceAccess reports whether a service token is held.
func (m *Manager) HasServiceAccess() bool {
	return m.current.Load().accessToken != ""
}

// StartAuthAccess starts the access loop seeded with a user-session access
// token. It does nothing while the held service token is still valid or when
// the seed is empty.
func (m *Manager) StartAuthAccess(userSessionAccessToken string) {
	held := m.current.Load()
	if !m.policy.IsEmptyOrExpiring(held.accessToken, held.expiresAt, 0) {
		return
	}
	if userSessionAccessToken == "" {
		return
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.seed.Store(&userSessionAccessToken)
	old := m.loop
	m.loop = nil
	m.mu.Unlock()

	awaitLoop(old)
	m.spawn()
}

// UpdateUserSessionAccessToken replaces the seed. A running loop uses it on
// its next exchange.
func (m *Manager) UpdateUserSessionAccessToken(userSessionAccessToken string) {
	m.seed.Store(&userSessionAccessToken)
}

// StopAuthAccess ends the access loop and clears the service token.
func (m *Manager) StopAuthAccess() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.generation++
	m.current.Store(emptyToken)
	empty := ""
	m.seed.Store(&empty)
	old := m.loop
	m.loop = nil
	m.mu.Unlock()

	awaitLoop(old)
	m.logger.Info("Service access stopped")
}

// Close ends the access loop.
func (m *Manager) Close() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.generation++
	old := m.loop
	m.loop = nil
	m.mu.Unlock()

	m.shutdown()
	awaitLoop(old)
	return nil
}

func (m *Manager) spawn() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	ctx, cancel := context.WithCancel(m.lifetime)
	h := &loopHandle{
		id:         utils.NewLoopID(),
		generation: m.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.loop = h

	go m.run(logging.ContextWithLoopID(ctx, h.id), h)
}

func (m *Manager) run(ctx context.Context, h *loopHandle) {
	defer close(h.done)

	logger := m.logger.WithContext(ctx).WithFields(logging.Uint64("generation", h.generation))
	logger.Debug("Service access loop started")
	if m.hooks.OnLoopStart != nil {
		m.hooks.OnLoopStart(h.generation)
	}
	if m.hooks.OnLoopExit != nil {
		defer m.hooks.OnLoopExit(h.generation)
	}

	for {
		if !m.tick(ctx, h.generation, logger) {
			return
		}

		timer := time.NewTimer(m.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debug("Service access loop cancelled")
			return
		case <-timer.C:
		}
	}
}

// tick renews the service token when needed and reports whether the loop
// continues.
func (m *Manager) tick(ctx context.Context, generation uint64, logger logging.Logger) bool {
	held := m.current.Load()
	if !m.policy.IsEmptyOrExpiring(held.accessToken, held.expiresAt, m.margin) {
		return true
	}

	seed := *m.seed.Load()
	if seed == "" {
		logger.Warn("No user session access token to exchange, service access ended")
		m.clearIfCurrent(ctx, generation)
		return false
	}

	result, err := m.exchanger.ExchangeForServiceAccess(ctx, seed)
	if ctx.Err() != nil {
		logger.Debug("Service access loop cancelled")
		return false
	}
	if err != nil || result == nil || result.AccessToken == "" {
		if err == nil {
			logger.Error("Service access exchange returned no token", nil)
		} else {
			logger.Error("Service access exchange failed, service access ended", err)
		}
		m.clearIfCurrent(ctx, generation)
		return false
	}

	next := &serviceToken{
		accessToken: result.AccessToken,
		expiresAt:   m.expiresAt(result),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation || ctx.Err() != nil {
		return false
	}
	m.current.Store(next)

	logger.Info("Service access token renewed", logging.Time("expires_at", time.Unix(next.expiresAt, 0)))
	return true
}

func (m *Manager) expiresAt(result *exchange.ServiceAccess) int64 {
	if result.ExpiresIn > 0 {
		return m.policy.Now().Unix() + result.ExpiresIn
	}
	return expiry.ExpiresAt(result.AccessToken)
}

func (m *Manager) clearIfCurrent(ctx context.Context, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation || ctx.Err() != nil {
		return
	}
	m.current.Store(emptyToken)
}

func awaitLoop(h *loopHandle) {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}
