// Package session keeps a user session alive.
//
// A Manager holds the refresh token and the short-lived access token of the
// signed-in user. A background loop refreshes the access token shortly before
// it expires, persists every new pair and publishes the new access token to
// subscribers. A failed refresh ends the session: the pair is cleared and the
// user has to sign in again.
package session

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/common/utils"
	"session-keeper/internal/exchange"
	"session-keeper/internal/expiry"
	"session-keeper/internal/locks"
	"session-keeper/internal/storage"
)

// ErrClosed is returned by lifecycle calls on a closed Manager.
var ErrClosed = stderrors.New("session manager closed")

// State is the lifecycle state of a Manager.
type State int32

const (
	StateStopped State = iota
	StateLoading
	StateRefreshing
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLoading:
		return "loading"
	case StateRefreshing:
		return "refreshing"
	case StateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// credentials is an immutable snapshot of the held pair.
type credentials struct {
	refreshToken string
	accessToken  string
	expiresAt    int64
}

var emptyCredentials = &credentials{}

type loopHandle struct {
	id         string
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// Manager is the user session manager.
type Manager struct {
	exchanger exchange.UserSessionRefresher
	store     storage.SessionStore
	policy    *expiry.Policy
	locker    locks.RefreshLocker
	lockKey   string
	logger    logging.Logger
	hooks     Hooks

	pollInterval time.Duration
	margin       time.Duration

	lifetime context.Context
	shutdown context.CancelFunc

	// lifecycle serializes Start, SetUserSession, Stop and Close.
	lifecycle sync.Mutex

	// mu guards generation, loop, closed, subscribers and every commit of
	// current.
	mu          sync.Mutex
	generation  uint64
	loop        *loopHandle
	closed      bool
	subscribers []func(accessToken string)

	current atomic.Pointer[credentials]
	state   atomic.Int32
}

// New creates a stopped Manager. Loops end when ctx is done or Close is called.
func New(ctx context.Context, exchanger exchange.UserSessionRefresher, store storage.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		exchanger:    exchanger,
		store:        store,
		policy:       expiry.New(),
		lockKey:      DefaultLockKey,
		pollInterval: DefaultPollInterval,
		margin:       DefaultMargin,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "user_session"})
	}

	m.lifetime, m.shutdown = context.WithCancel(ctx)
	m.current.Store(emptyCredentials)
	m.state.Store(int32(StateStopped))
	return m
}

// Subscribe registers fn to receive every change of the access token,
// including "" when the session is cleared. Subscribers are called
// synchronously in registration order and must not call back into the
// Manager's lifecycle methods.
func (m *Manager) Subscribe(fn func(accessToken string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// CurrentRefreshToken returns the held refresh token, "" when signed out.
func (m *Manager) CurrentRefreshToken() string {
	return m.current.Load().refreshToken
}

// CurrentAccessToken returns the held access token, "" when signed out.
func (m *Manager) CurrentAccessToken() string {
	return m.current.Load().accessToken
}

// CurrentAccessTokenExpiresAt returns the access token expiry in unix
// seconds, 0 when unknown.
func (m *Manager) CurrentAccessTokenExpiresAt() int64 {
	return m.current.Load().expiresAt
}

// IsSessionActive reports whether a refresh token is held that has not
// expired yet.
func (m *Manager) IsSessionActive() bool {
	return m.policy.RefreshTokenUsable(m.current.Load().refreshToken)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Start resumes a persisted session. It does nothing while a usable refresh
// token is held. Otherwise the pair is loaded from the store; an empty or
// expired refresh token leaves the Manager stopped, anything else starts the
// refresh loop. A store failure is returned and also leaves it stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.isClosed() {
		return ErrClosed
	}
	if m.policy.RefreshTokenUsable(m.CurrentRefreshToken()) {
		return nil
	}

	m.state.Store(int32(StateLoading))
	refreshToken, accessToken, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("Failed to load user session", err)
		m.clear()
		return errors.InternalError("failed to load user session", err)
	}
	if !m.policy.RefreshTokenUsable(refreshToken) {
		m.logger.Info("No resumable user session", logging.Bool("stored", refreshToken != ""))
		m.clear()
		return nil
	}

	m.mu.Lock()
	m.generation++
	m.commitLocked(&credentials{
		refreshToken: refreshToken,
		accessToken:  accessToken,
		expiresAt:    expiry.ExpiresAt(accessToken),
	})
	old := m.loop
	m.loop = nil
	m.mu.Unlock()

	awaitLoop(old)
	m.logger.Info("User session resumed")
	return m.spawn()
}

// SetUserSession replaces the held pair, persists it and restarts the
// refresh loop. The access token expiry is taken from its JWT exp claim.
// A persist failure is returned; the pair is held and refreshed regardless.
func (m *Manager) SetUserSession(ctx context.Context, refreshToken, accessToken string) error {
	if refreshToken == "" {
		return errors.ValidationError("refresh token is empty")
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.generation++
	next := &credentials{
		refreshToken: refreshToken,
		accessToken:  accessToken,
		expiresAt:    expiry.ExpiresAt(accessToken),
	}
	m.commitLocked(next)
	saveErr := m.persistLocked(ctx, next)
	old := m.loop
	m.loop = nil
	m.mu.Unlock()

	awaitLoop(old)
	if err := m.spawn(); err != nil {
		return err
	}
	return saveErr
}

// Stop ends the refresh loop and clears and persists the empty pair.
func (m *Manager) Stop(ctx context.Context) error {
	_, err := m.Release(ctx)
	return err
}

// Release stops like Stop and returns the refresh token held at that moment.
// No refresh can rotate it afterwards, so it is the one to revoke.
func (m *Manager) Release(ctx context.Context) (string, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.generation++
	released := m.current.Load().refreshToken
	m.commitLocked(emptyCredentials)
	err := m.persistLocked(ctx, emptyCredentials)
	old := m.loop
	m.loop = nil
	m.mu.Unlock()

	awaitLoop(old)
	m.state.Store(int32(StateStopped))
	m.logger.Info("User session stopped")
	return released, err
}

// Close ends the refresh loop without touching the held or stored pair.
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
	m.state.Store(int32(StateStopped))
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// clear drops the held pair without persisting it.
func (m *Manager) clear() {
	m.mu.Lock()
	m.generation++
	m.commitLocked(emptyCredentials)
	old := m.loop
	m.loop = nil
	m.mu.Unlock()

	awaitLoop(old)
	m.state.Store(int32(StateStopped))
}

// spawn starts a loop for the current generation. Callers hold lifecycle and
// have awaited the previous loop.
func (m *Manager) spawn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(m.lifetime)
	h := &loopHandle{
		id:         utils.NewLoopID(),
		generation: m.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.loop = h
	m.state.Store(int32(StateIdle))

	go m.run(logging.ContextWithLoopID(ctx, h.id), h)
	return nil
}

// commitLocked publishes next. Callers hold mu.
func (m *Manager) commitLocked(next *credentials) {
	prev := m.current.Swap(next)
	if prev.accessToken == next.accessToken {
		return
	}
	for _, fn := range m.subscribers {
		fn(next.accessToken)
	}
}

// persistLocked saves next. Callers hold mu so saves land in commit order.
func (m *Manager) persistLocked(ctx context.Context, next *credentials) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err := m.store.Save(ctx, next.refreshToken, next.accessToken); err != nil {
		m.logger.Error("Failed to persist user session", err)
		return err
	}
	return nil
}

// awaitLoop cancels h and waits for its goroutine to exit.
func awaitLoop(h *loopHandle) {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}
