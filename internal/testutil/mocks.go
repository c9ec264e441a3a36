package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"session-keeper/internal/exchange"
	"session-keeper/internal/storage"
)

var (
	_ exchange.Client      = (*MockExchanger)(nil)
	_ storage.SessionStore = (*MockStore)(nil)
)

// MockExchanger implements exchange.Client for testing. Without overrides a
// refresh rotates to RefreshToken("rt-N")/at-N and an exchange returns svc-N, all valid for
// TokenTTL.
type MockExchanger struct {
	mu sync.Mutex

	// RefreshFunc and ExchangeFunc replace the canned behaviour when set
	RefreshFunc  func(ctx context.Context, refreshToken string) (*exchange.UserSession, error)
	ExchangeFunc func(ctx context.Context, accessToken string) (*exchange.ServiceAccess, error)

	TokenTTL time.Duration
	Now      func() time.Time

	// Control error injection
	ErrorOnMethod map[string]error

	refreshCalls  []string
	exchangeCalls []string
	signOutCalls  []string
	sessions      int
	services      int
}

// NewMockExchanger creates a new mock exchanger
func NewMockExchanger() *MockExchanger {
	return &MockExchanger{
		TokenTTL:      time.Hour,
		Now:           time.Now,
		ErrorOnMethod: make(map[string]error),
	}
}

// SetError makes method fail with err; a nil err clears the injection
func (m *MockExchanger) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.ErrorOnMethod, method)
		return
	}
	m.ErrorOnMethod[method] = err
}

func (m *MockExchanger) RefreshUserSession(ctx context.Context, refreshToken string) (*exchange.UserSession, error) {
	m.mu.Lock()
	m.refreshCalls = append(m.refreshCalls, refreshToken)
	fn := m.RefreshFunc
	err := m.ErrorOnMethod["RefreshUserSession"]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, refreshToken)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
	return &exchange.UserSession{
		RefreshToken: RefreshToken(fmt.Sprintf("rt-%d", m.sessions)),
		AccessToken:  fmt.Sprintf("at-%d", m.sessions),
		ExpiresAt:    m.Now().Add(m.TokenTTL).Unix(),
	}, nil
}

func (m *MockExchanger) ExchangeForServiceAccess(ctx context.Context, accessToken string) (*exchange.ServiceAccess, error) {
	m.mu.Lock()
	m.exchangeCalls = append(m.exchangeCalls, accessToken)
	fn := m.ExchangeFunc
	err := m.ErrorOnMethod["ExchangeForServiceAccess"]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, accessToken)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.services++
	return &exchange.ServiceAccess{
		AccessToken: fmt.Sprintf("svc-%d", m.services),
		ExpiresIn:   int64(m.TokenTTL / time.Second),
	}, nil
}

func (m *MockExchanger) SignOut(ctx context.Context, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOutCalls = append(m.signOutCalls, refreshToken)
	return m.ErrorOnMethod["SignOut"]
}

// RefreshCalls returns the refresh tokens presented so far
func (m *MockExchanger) RefreshCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshCalls...)
}

// ExchangeCalls returns the access tokens presented so far
func (m *MockExchanger) ExchangeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.exchangeCalls...)
}

// SignOutCalls returns the refresh tokens signed out so far
func (m *MockExchanger) SignOutCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.signOutCalls...)
}

// Pair is one saved credential pair
type Pair struct {
	RefreshToken string
	AccessToken  string
}

// MockStore implements storage.SessionStore and records every save
type MockStore struct {
	mu      sync.Mutex
	current Pair
	saves   []Pair
	loads   int

	// Control error injection
	ErrorOnMethod map[string]error
}

// NewMockStore creates a store already holding refreshToken and accessToken
func NewMockStore(refreshToken, accessToken string) *MockStore {
	return &MockStore{
		current:       Pair{RefreshToken: refreshToken, AccessToken: accessToken},
		ErrorOnMethod: make(map[string]error),
	}
}

// SetError makes method fail with err; a nil err clears the injection
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.ErrorOnMethod, method)
		return
	}
	m.ErrorOnMethod[method] = err
}

func (m *MockStore) Save(ctx context.Context, refreshToken, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ErrorOnMethod["Save"]; err != nil {
		return err
	}
	m.current = Pair{RefreshToken: refreshToken, AccessToken: accessToken}
	m.saves = append(m.saves, m.current)
	return nil
}

func (m *MockStore) Load(ctx context.Context) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loads++
	if err := m.ErrorOnMethod["Load"]; err != nil {
		return "", "", err
	}
	return m.current.RefreshToken, m.current.AccessToken, nil
}

// Put replaces the stored pair without recording a save, as another process
// sharing the store would
func (m *MockStore) Put(refreshToken, accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Pair{RefreshToken: refreshToken, AccessToken: accessToken}
}

// Current returns the stored pair
func (m *MockStore) Current() Pair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Saves returns every pair saved so far
func (m *MockStore) Saves() []Pair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Pair(nil), m.saves...)
}

// Loads returns how many times Load was called
func (m *MockStore) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// Blocker parks calls until Release is called or their context ends
type Blocker struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewBlocker creates a new blocker
func NewBlocker() *Blocker {
	return &Blocker{
		entered: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

// Wait blocks until Release or ctx is done and returns ctx.Err in the latter case
func (b *Blocker) Wait(ctx context.Context) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entered receives once per call that reached Wait
func (b *Blocker) Entered() <-chan struct{} {
	return b.entered
}

// Release unblocks every current and future Wait
func (b *Blocker) Release() {
	b.once.Do(func() { close(b.release) })
}
