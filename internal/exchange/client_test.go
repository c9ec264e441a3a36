package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"session-keeper/internal/circuitbreaker"
	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
)

var _ Client = (*HTTPClient)(nil)

func newTestClient(server *httptest.Server, opts ...Option) *HTTPClient {
	endpoints := Endpoints{
		SignIn:   server.URL + "/signin",
		SignOut:  server.URL + "/signout",
		Identity: server.URL + "/oauth/token",
		Access:   server.URL + "/api/access-token",
	}
	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	return NewHTTPClient(endpoints, opts...)
}

func TestRefreshUserSession(t *testing.T) {
	t.Run("rotated refresh token from cookie", func(t *testing.T) {
		expiresAt := time.Now().Add(time.Hour).Unix()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/oauth/token", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			cookie, err := r.Cookie("refresh_token")
			require.NoError(t, err)
			assert.Equal(t, "rt-1", cookie.Value)

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "refresh_user_session_access_token", body["grantType"])

			http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "rt-2", HttpOnly: true, Path: "/"})
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"token":"at-1","expiresAt":%d}`, expiresAt)
		}))
		defer server.Close()

		result, err := newTestClient(server).RefreshUserSession(context.Background(), "rt-1")
		require.NoError(t, err)
		assert.Equal(t, &UserSession{RefreshToken: "rt-2", AccessToken: "at-1", ExpiresAt: expiresAt}, result)
	})

	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"token":"at-1","expiresAt":1900000000}`)
		}))
		defer server.Close()

		result, err := newTestClient(server).RefreshUserSession(context.Background(), "rt-1")
		require.NoError(t, err)
		assert.Equal(t, "rt-1", result.RefreshToken)
	})

	t.Run("expiry falls back to jwt exp", func(t *testing.T) {
		exp := time.Now().Add(30 * time.Minute).Unix()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp}).SignedString([]byte("k"))
		require.NoError(t, err)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"token":%q}`, token)
		}))
		defer server.Close()

		result, err := newTestClient(server).RefreshUserSession(context.Background(), "rt-1")
		require.NoError(t, err)
		assert.Equal(t, exp, result.ExpiresAt)
	})

	t.Run("rejected refresh token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
		}))
		defer server.Close()

		result, err := newTestClient(server).RefreshUserSession(context.Background(), "rt-revoked")
		assert.Nil(t, result)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
		assert.Contains(t, err.Error(), "invalid_grant")
	})

	t.Run("server error without json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newTestClient(server).RefreshUserSession(context.Background(), "rt-1")
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		}))
		defer server.Close()

		_, err := newTestClient(server).RefreshUserSession(context.Background(), "rt-1")
		assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
	})

	t.Run("missing access token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"expiresAt":1900000000}`)
		}))
		defer server.Close()

		_, err := newTestClient(server).RefreshUserSession(context.Background(), "rt-1")
		assert.Error(t, err)
	})

	t.Run("empty refresh token is rejected locally", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer server.Close()

		_, err := newTestClient(server).RefreshUserSession(context.Background(), "")
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("cancelled while in flight", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		_, err := newTestClient(server).RefreshUserSession(ctx, "rt-1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExchangeForServiceAccess(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/access-token", r.URL.Path)
			assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"accessToken":"svc-1","expiresIn":3600}`)
		}))
		defer server.Close()

		result, err := newTestClient(server).ExchangeForServiceAccess(context.Background(), "at-1")
		require.NoError(t, err)
		assert.Equal(t, &ServiceAccess{AccessToken: "svc-1", ExpiresIn: 3600}, result)
	})

	t.Run("error field in ok response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"error":"user not entitled"}`)
		}))
		defer server.Close()

		result, err := newTestClient(server).ExchangeForServiceAccess(context.Background(), "at-1")
		assert.Nil(t, result)
		assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
		assert.Contains(t, err.Error(), "user not entitled")
	})

	t.Run("forbidden", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":"expired"}`)
		}))
		defer server.Close()

		_, err := newTestClient(server).ExchangeForServiceAccess(context.Background(), "at-1")
		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "403", appErr.Code)
	})

	t.Run("empty seed is rejected locally", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := newTestClient(server).ExchangeForServiceAccess(context.Background(), "")
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		client := newTestClient(server)
		server.Close()

		_, err := client.ExchangeForServiceAccess(context.Background(), "at-1")
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})
}

func TestCircuitBreakerIsolation(t *testing.T) {
	var identityCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			atomic.AddInt32(&identityCalls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"accessToken":"svc-1","expiresIn":60}`)
	}))
	defer server.Close()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		MaxFailures:           2,
		Timeout:               time.Minute,
		MaxConcurrentRequests: 1,
	}, logging.NewNopLogger())
	client := newTestClient(server, WithBreakers(breakers))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.RefreshUserSession(ctx, "rt-1")
		assert.Error(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&identityCalls))

	_, err := client.RefreshUserSession(ctx, "rt-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeUnavailable))

	result, err := client.ExchangeForServiceAccess(ctx, "at-1")
	require.NoError(t, err)
	assert.Equal(t, "svc-1", result.AccessToken)
	assert.Len(t, client.BreakerStats(), 2)
}

func TestSignOut(t *testing.T) {
	t.Run("sends refresh token as query parameter", func(t *testing.T) {
		var got string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/signout", r.URL.Path)
			got = r.URL.Query().Get("refreshToken")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		require.NoError(t, newTestClient(server).SignOut(context.Background(), "rt 1&x"))
		assert.Equal(t, "rt 1&x", got)
	})

	t.Run("redirect counts as success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/signed-out", http.StatusFound)
		}))
		defer server.Close()

		assert.NoError(t, newTestClient(server).SignOut(context.Background(), "rt-1"))
	})

	t.Run("server failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		assert.Error(t, newTestClient(server).SignOut(context.Background(), "rt-1"))
	})

	t.Run("no endpoint configured", func(t *testing.T) {
		client := NewHTTPClient(Endpoints{}, WithLogger(logging.NewNopLogger()))
		assert.NoError(t, client.SignOut(context.Background(), "rt-1"))
	})
}
