package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"session-keeper/internal/circuitbreaker"
	"session-keeper/internal/common/errors"
	commonhttp "session-keeper/internal/common/http"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/expiry"
)

const (
	refreshGrantType = "refresh_user_session_access_token"
	refreshCookie    = "refresh_token"

	// maxResponseBytes bounds what is read from a token endpoint.
	maxResponseBytes = 1 << 20

	identityBreaker = "identity"
	accessBreaker   = "access"
	signOutBreaker  = "sign_out"
)

type refreshRequest struct {
	GrantType string `json:"grantType"`
}

type refreshResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	Error     string `json:"error"`
}

type accessResponse struct {
	Error       string `json:"error"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// HTTPClient implements Client over HTTP. Every endpoint has its own circuit
// breaker, so a failing access endpoint cannot block session refreshes.
type HTTPClient struct {
	endpoints  Endpoints
	httpClient *http.Client
	breakers   *circuitbreaker.Registry
	logger     logging.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithBreakers replaces the circuit breaker registry.
func WithBreakers(breakers *circuitbreaker.Registry) Option {
	return func(c *HTTPClient) {
		c.breakers = breakers
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// NewHTTPClient creates a client for endpoints.
func NewHTTPClient(endpoints Endpoints, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		endpoints: endpoints,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "exchange"})
	}
	if c.httpClient == nil {
		c.httpClient = commonhttp.NewHTTPClient(commonhttp.WithTimeout(30 * time.Second))
	}
	if c.breakers == nil {
		c.breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), c.logger)
	}
	return c
}

// Endpoints returns the configured endpoints.
func (c *HTTPClient) Endpoints() Endpoints {
	return c.endpoints
}

// BreakerStats returns the state of the endpoint circuit breakers.
func (c *HTTPClient) BreakerStats() []circuitbreaker.Stats {
	return c.breakers.Stats()
}

// RefreshUserSession posts the refresh grant with the refresh token as a
// cookie. The new access token comes from the body; a rotated refresh token
// comes back as a refresh_token cookie. When the server does not rotate, the
// presented refresh token stays valid and is returned unchanged.
func (c *HTTPClient) RefreshUserSession(ctx context.Context, refreshToken string) (*UserSession, error) {
	if refreshToken == "" {
		return nil, errors.ValidationError("refresh token is empty")
	}

	body, err := json.Marshal(refreshRequest{GrantType: refreshGrantType})
	if err != nil {
		return nil, errors.InternalError("failed to encode refresh request", err)
	}

	var result *UserSession
	err = c.breakers.Get(identityBreaker).Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Identity, bytes.NewReader(body))
		if err != nil {
			return errors.ConfigError("invalid identity endpoint").WithCause(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.AddCookie(&http.Cookie{Name: refreshCookie, Value: refreshToken})

		resp, err := c.do(req, "user session refresh")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var decoded refreshResponse
		if err := decodeBody(resp, &decoded); err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return statusError("user session refresh", resp.StatusCode, decoded.Error)
		}
		if decoded.Token == "" {
			return errors.InternalError("refresh response carries no access token", nil)
		}

		rotated := rotatedRefreshToken(resp)
		if rotated == "" {
			rotated = refreshToken
		}
		expiresAt := decoded.ExpiresAt
		if expiresAt <= 0 {
			expiresAt = expiry.ExpiresAt(decoded.Token)
		}

		result = &UserSession{
			RefreshToken: rotated,
			AccessToken:  decoded.Token,
			ExpiresAt:    expiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("User session refreshed",
		logging.Bool("refresh_token_rotated", result.RefreshToken != refreshToken),
		logging.Field{Key: "expires_at", Value: result.ExpiresAt},
	)
	return result, nil
}

// ExchangeForServiceAccess calls the access endpoint with the user-session
// access token as bearer credential.
func (c *HTTPClient) ExchangeForServiceAccess(ctx context.Context, userSessionAccessToken string) (*ServiceAccess, error) {
	if userSessionAccessToken == "" {
		return nil, errors.ValidationError("user session access token is empty")
	}

	var result *ServiceAccess
	err := c.breakers.Get(accessBreaker).Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Access, nil)
		if err != nil {
			return errors.ConfigError("invalid access endpoint").WithCause(err)
		}
		req.Header.Set("Authorization", "Bearer "+userSessionAccessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.do(req, "service access exchange")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var decoded accessResponse
		if err := decodeBody(resp, &decoded); err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return statusError("service access exchange", resp.StatusCode, decoded.Error)
		}
		if decoded.Error != "" {
			return errors.AuthError(fmt.Sprintf("access endpoint refused: %s", decoded.Error))
		}
		if decoded.AccessToken == "" {
			return errors.InternalError("access response carries no access token", nil)
		}

		result = &ServiceAccess{
			AccessToken: decoded.AccessToken,
			ExpiresIn:   decoded.ExpiresIn,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Service access token received", logging.Duration("expires_in", time.Duration(result.ExpiresIn)*time.Second))
	return result, nil
}

// SignOut tells the sign-out endpoint to drop refreshToken. Callers treat
// failures as best-effort.
func (c *HTTPClient) SignOut(ctx context.Context, refreshToken string) error {
	if c.endpoints.SignOut == "" {
		return nil
	}

	signOutURL, err := url.Parse(c.endpoints.SignOut)
	if err != nil {
		return errors.ConfigError("invalid sign-out endpoint").WithCause(err)
	}
	q := signOutURL.Query()
	q.Set("refreshToken", refreshToken)
	signOutURL.RawQuery = q.Encode()

	return c.breakers.Get(signOutBreaker).Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, signOutURL.String(), nil)
		if err != nil {
			return errors.ConfigError("invalid sign-out endpoint").WithCause(err)
		}

		resp, err := c.do(req, "sign out")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

		if resp.StatusCode >= http.StatusBadRequest {
			return statusError("sign out", resp.StatusCode, "")
		}
		return nil
	})
}

func (c *HTTPClient) do(req *http.Request, operation string) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err == nil {
		return resp, nil
	}
	if stderrors.Is(err, context.Canceled) {
		return nil, context.Canceled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return nil, errors.TimeoutError(operation).WithCause(err)
	}
	var netErr interface{ Timeout() bool }
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return nil, errors.TimeoutError(operation).WithCause(err)
	}
	return nil, errors.ConnectionError(operation+" request failed", err)
}

// decodeBody decodes a JSON body. Error statuses with a non-JSON body are
// left to the status check.
func decodeBody(resp *http.Response, dest interface{}) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.ConnectionError("failed to read response body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if resp.StatusCode == http.StatusOK {
			return errors.InternalError("empty response body", nil)
		}
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		if resp.StatusCode == http.StatusOK {
			return errors.InternalError("failed to parse response", err)
		}
		return nil
	}
	return nil
}

func statusError(operation string, status int, detail string) error {
	msg := fmt.Sprintf("%s returned HTTP %d", operation, status)
	if detail != "" {
		msg += ": " + detail
	}

	var appErr *errors.AppError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusBadRequest:
		appErr = errors.AuthError(msg)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		appErr = errors.ConnectionError(msg, nil)
	default:
		appErr = errors.InternalError(msg, nil)
	}
	return appErr.WithCode(fmt.Sprintf("%d", status))
}

// rotatedRefreshToken returns the refresh_token cookie set by the response.
func rotatedRefreshToken(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if strings.EqualFold(cookie.Name, refreshCookie) && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}
