package login

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"session-keeper/internal/access"
	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/exchange"
	"session-keeper/internal/session"
	"session-keeper/internal/testutil"
)

// MockAccess implements AccessManager for testing
type MockAccess struct {
	mock.Mock
}

func (m *MockAccess) StartAuthAccess(userSessionAccessToken string) {
	m.Called(userSessionAccessToken)
}

func (m *MockAccess) UpdateUserSessionAccessToken(token string) {
	m.Called(token)
}

func (m *MockAccess) StopAuthAccess() {
	m.Called()
}

func (m *MockAccess) HasServiceAccess() bool {
	args := m.Called()
	return args.Bool(0)
}

type fixture struct {
	controller *Controller
	sessions   *session.Manager
	access     *MockAccess
	exchanger  *testutil.MockExchanger
	store      *testutil.MockStore
}

func newFixture(t *testing.T, store *testutil.MockStore) *fixture {
	t.Helper()

	ex := testutil.NewMockExchanger()
	sessions := session.New(context.Background(), ex, store,
		session.WithLogger(logging.NewNopLogger()),
		session.WithPollInterval(time.Hour),
	)
	t.Cleanup(func() { sessions.Close() })

	access := &MockAccess{}
	access.On("UpdateUserSessionAccessToken", mock.Anything).Return().Maybe()
	controller := NewController(sessions, access, ex, Config{
		SignInEndpoint: "https://example.com/signin",
		RedirectType:   "unity-app",
	}, logging.NewNopLogger())

	return &fixture{
		controller: controller,
		sessions:   sessions,
		access:     access,
		exchanger:  ex,
		store:      store,
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		access  string
		refresh string
		wantErr bool
	}{
		{
			name:    "query",
			url:     "http://127.0.0.1:8765/callback?accessToken=at-1&refreshToken=rt-1",
			access:  "at-1",
			refresh: "rt-1",
		},
		{
			name:    "fragment",
			url:     "myapp://auth#accessToken=at-1&refreshToken=rt-1",
			access:  "at-1",
			refresh: "rt-1",
		},
		{
			name:    "case insensitive names",
			url:     "/callback?ACCESSTOKEN=at-1&RefreshToken=rt-1",
			access:  "at-1",
			refresh: "rt-1",
		},
		{
			name:    "split between query and fragment",
			url:     "/callback?accessToken=at-1#refreshToken=rt-1",
			access:  "at-1",
			refresh: "rt-1",
		},
		{
			name:    "escaped values",
			url:     "/callback?accessToken=a%2Fb%3Dc&refreshToken=rt%201",
			access:  "a/b=c",
			refresh: "rt 1",
		},
		{
			name:    "extra parameters",
			url:     "/callback?state=xyz&refreshToken=rt-1&accessToken=at-1&expiresIn=3600",
			access:  "at-1",
			refresh: "rt-1",
		},
		{
			name:    "missing refresh token",
			url:     "/callback?accessToken=at-1",
			wantErr: true,
		},
		{
			name:    "empty access token",
			url:     "/callback?accessToken=&refreshToken=rt-1",
			wantErr: true,
		},
		{
			name:    "no parameters",
			url:     "/callback",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			access, refresh, err := ParseCallback(tt.url)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.access, access)
			assert.Equal(t, tt.refresh, refresh)
		})
	}
}

func TestSignInURL(t *testing.T) {
	c := NewController(nil, nil, nil, Config{
		SignInEndpoint: "https://example.com/signin?lang=en",
		RedirectType:   "unity-app",
	}, logging.NewNopLogger())

	signInURL, err := c.SignInURL()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/signin?lang=en&redirectType=unity-app", signInURL)

	c = NewController(nil, nil, nil, Config{SignInEndpoint: "not a url"}, logging.NewNopLogger())
	_, err = c.SignInURL()
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestCompleteLogin(t *testing.T) {
	f := newFixture(t, testutil.NewMockStore("", ""))
	accessToken := testutil.NewJWT(time.Now().Add(time.Hour))
	f.access.On("StartAuthAccess", accessToken).Return().Once()
	f.access.On("HasServiceAccess").Return(true)

	var events []string
	f.controller.OnLoginComplete(func(e Event) { events = append(events, "first:"+e.LoginID) })
	f.controller.OnLoginComplete(func(e Event) { events = append(events, "second:"+e.LoginID) })

	loginID, _, err := f.controller.BeginLogin()
	require.NoError(t, err)
	assert.True(t, f.controller.Status().LoginInProgress)

	require.NoError(t, f.controller.CompleteLogin(context.Background(), accessToken, testutil.RefreshToken("rt-1")))

	assert.Equal(t, []string{"first:" + loginID, "second:" + loginID}, events)
	assert.Equal(t, testutil.RefreshToken("rt-1"), f.sessions.CurrentRefreshToken())
	assert.Equal(t, testutil.Pair{RefreshToken: testutil.RefreshToken("rt-1"), AccessToken: accessToken}, f.store.Current())
	assert.Equal(t, Status{
		LoggedIn:         true,
		LoginInProgress:  false,
		State:            "idle",
		HasServiceAccess: true,
	}, f.controller.Status())
	f.access.AssertExpectations(t)
	f.access.AssertNumberOfCalls(t, "StartAuthAccess", 1)
	f.access.AssertCalled(t, "UpdateUserSessionAccessToken", accessToken)
}

func TestCompleteLogin_UnchangedAccessToken(t *testing.T) {
	f := newFixture(t, testutil.NewMockStore("", ""))
	accessToken := testutil.NewJWT(time.Now().Add(time.Hour))
	f.access.On("StartAuthAccess", accessToken).Return().Twice()

	ctx := context.Background()
	require.NoError(t, f.controller.CompleteLogin(ctx, accessToken, testutil.RefreshToken("rt-1")))
	require.NoError(t, f.controller.CompleteLogin(ctx, accessToken, testutil.RefreshToken("rt-2")))

	assert.Equal(t, testutil.RefreshToken("rt-2"), f.sessions.CurrentRefreshToken())
	f.access.AssertExpectations(t)
}

func TestCompleteLogin_MissingRefreshToken(t *testing.T) {
	f := newFixture(t, testutil.NewMockStore("", ""))

	called := false
	f.controller.OnLoginComplete(func(Event) { called = true })

	err := f.controller.CompleteLogin(context.Background(), "at-1", "")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.False(t, called)
	f.access.AssertNotCalled(t, "StartAuthAccess", mock.Anything)
}

func TestCompleteLogin_PersistFailureStillLogsIn(t *testing.T) {
	store := testutil.NewMockStore("", "")
	store.SetError("Save", testutil.ErrTestFailure)
	f := newFixture(t, store)
	f.access.On("StartAuthAccess", "at-1").Return()

	require.NoError(t, f.controller.CompleteLogin(context.Background(), "at-1", testutil.RefreshToken("rt-1")))
	assert.True(t, f.controller.IsLoggedIn())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	accessToken := testutil.NewJWT(time.Now().Add(time.Hour))

	t.Run("signs out the held session", func(t *testing.T) {
		f := newFixture(t, testutil.NewMockStore("", ""))
		f.access.On("StartAuthAccess", accessToken).Return()
		f.access.On("StopAuthAccess").Return().Once()

		require.NoError(t, f.controller.CompleteLogin(ctx, accessToken, testutil.RefreshToken("rt-1")))
		require.NoError(t, f.controller.Logout(ctx))

		assert.Equal(t, []string{testutil.RefreshToken("rt-1")}, f.exchanger.SignOutCalls())
		assert.False(t, f.controller.IsLoggedIn())
		assert.Equal(t, testutil.Pair{}, f.store.Current())
		f.access.AssertExpectations(t)
	})

	t.Run("remote failure is best effort", func(t *testing.T) {
		f := newFixture(t, testutil.NewMockStore("", ""))
		f.exchanger.SetError("SignOut", testutil.ErrTestFailure)
		f.access.On("StartAuthAccess", accessToken).Return()
		f.access.On("StopAuthAccess").Return()

		require.NoError(t, f.controller.CompleteLogin(ctx, accessToken, testutil.RefreshToken("rt-1")))
		require.NoError(t, f.controller.Logout(ctx))

		assert.False(t, f.controller.IsLoggedIn())
	})

	t.Run("no remote call without a session", func(t *testing.T) {
		f := newFixture(t, testutil.NewMockStore("", ""))
		f.access.On("StopAuthAccess").Return()

		require.NoError(t, f.controller.Logout(ctx))
		assert.Empty(t, f.exchanger.SignOutCalls())
	})

	t.Run("store failure", func(t *testing.T) {
		store := testutil.NewMockStore("", "")
		f := newFixture(t, store)
		f.access.On("StopAuthAccess").Return()
		store.SetError("Save", testutil.ErrTestFailure)

		err := f.controller.Logout(ctx)
		assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
	})
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	accessToken := testutil.NewJWT(time.Now().Add(time.Hour))

	t.Run("persisted session", func(t *testing.T) {
		f := newFixture(t, testutil.NewMockStore(testutil.RefreshToken("rt-stored"), accessToken))
		f.access.On("StartAuthAccess", accessToken).Return().Once()

		require.NoError(t, f.controller.Resume(ctx))

		assert.True(t, f.controller.IsLoggedIn())
		f.access.AssertExpectations(t)
	})

	t.Run("nothing persisted", func(t *testing.T) {
		f := newFixture(t, testutil.NewMockStore("", ""))

		require.NoError(t, f.controller.Resume(ctx))

		assert.False(t, f.controller.IsLoggedIn())
		f.access.AssertNotCalled(t, "StartAuthAccess", mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		store := testutil.NewMockStore(testutil.RefreshToken("rt-stored"), accessToken)
		store.SetError("Load", testutil.ErrTestFailure)
		f := newFixture(t, store)

		assert.Error(t, f.controller.Resume(ctx))
		f.access.AssertNotCalled(t, "StartAuthAccess", mock.Anything)
	})
}

// stopObserver records whether the user session was still held when
// service access was stopped, and lets a parked refresh go at that moment.
type stopObserver struct {
	*access.Manager
	sessions     *session.Manager
	blocker      *testutil.Blocker
	activeAtStop bool
	accessAtStop string
}

func (o *stopObserver) StopAuthAccess() {
	o.activeAtStop = o.sessions.IsSessionActive()
	o.accessAtStop = o.sessions.CurrentAccessToken()
	o.blocker.Release()
	o.Manager.StopAuthAccess()
}

func TestLogout_RefreshInFlight(t *testing.T) {
	ctx := context.Background()
	blocker := testutil.NewBlocker()
	ex := testutil.NewMockExchanger()
	ex.RefreshFunc = func(ctx context.Context, refreshToken string) (*exchange.UserSession, error) {
		if err := blocker.Wait(ctx); err != nil {
			return nil, err
		}
		return &exchange.UserSession{
			RefreshToken: testutil.RefreshToken("rt-new"),
			AccessToken:  "at-new",
			ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		}, nil
	}
	store := testutil.NewMockStore("", "")

	sessions := session.New(ctx, ex, store,
		session.WithLogger(logging.NewNopLogger()),
		session.WithPollInterval(time.Hour),
	)
	t.Cleanup(func() { sessions.Close() })
	services := access.New(ctx, ex,
		access.WithLogger(logging.NewNopLogger()),
		access.WithPollInterval(time.Hour),
	)
	t.Cleanup(func() { services.Close() })

	observer := &stopObserver{Manager: services, sessions: sessions, blocker: blocker}
	controller := NewController(sessions, observer, ex, Config{
		SignInEndpoint: "https://example.com/signin",
	}, logging.NewNopLogger())

	// Inside the refresh margin, so the first tick refreshes and parks.
	expiring := testutil.NewJWT(time.Now().Add(30 * time.Second))
	require.NoError(t, controller.CompleteLogin(ctx, expiring, testutil.RefreshToken("rt-1")))
	select {
	case <-blocker.Entered():
	case <-time.After(time.Second):
		t.Fatal("refresh was not attempted")
	}
	require.Eventually(t, services.HasServiceAccess, time.Second, 5*time.Millisecond)

	require.NoError(t, controller.Logout(ctx))

	assert.False(t, observer.activeAtStop)
	assert.Equal(t, "", observer.accessAtStop)
	assert.Equal(t, []string{testutil.RefreshToken("rt-1")}, ex.SignOutCalls())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "", services.CurrentServiceAccessToken())
	assert.False(t, services.HasServiceAccess())
	assert.Equal(t, "", sessions.CurrentAccessToken())
	assert.Equal(t, testutil.Pair{}, store.Current())
	assert.NotContains(t, ex.ExchangeCalls(), "at-new")
}
