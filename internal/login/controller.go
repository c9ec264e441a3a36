// Package login drives the sign-in lifecycle: it builds the browser sign-in
// URL, turns the callback into a user session, resumes a persisted session
// at startup and signs out.
package login

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/common/utils"
	"session-keeper/internal/exchange"
	"session-keeper/internal/session"
)

const signOutTimeout = 10 * time.Second

// SessionManager is the part of session.Manager the controller drives.
type SessionManager interface {
	Start(ctx context.Context) error
	SetUserSession(ctx context.Context, refreshToken, accessToken string) error
	Release(ctx context.Context) (string, error)
	Subscribe(fn func(accessToken string))
	CurrentRefreshToken() string
	CurrentAccessToken() string
	IsSessionActive() bool
	State() session.State
}

// AccessManager is the part of access.Manager the controller drives.
type AccessManager interface {
	StartAuthAccess(userSessionAccessToken string)
	UpdateUserSessionAccessToken(token string)
	StopAuthAccess()
	HasServiceAccess() bool
}

// Event describes a completed login.
type Event struct {
	LoginID     string
	CompletedAt time.Time
}

// Status is a token-free snapshot of the login state.
type Status struct {
	LoggedIn         bool   `json:"logged_in"`
	LoginInProgress  bool   `json:"login_in_progress"`
	State            string `json:"state"`
	HasServiceAccess bool   `json:"has_service_access"`
}

// Config holds the sign-in page settings.
type Config struct {
	SignInEndpoint string
	RedirectType   string
}

// Controller coordinates the session and access managers.
type Controller struct {
	session   SessionManager
	access    AccessManager
	signOuter exchange.SignOuter
	config    Config
	logger    logging.Logger

	mu        sync.Mutex
	pending   string
	listeners []func(Event)
}

// NewController creates a controller and subscribes service access to the
// user session's access token. signOuter may be nil, in which case logout
// only clears local state.
func NewController(sessions SessionManager, access AccessManager, signOuter exchange.SignOuter, config Config, logger logging.Logger) *Controller {
	if logger == nil {
		logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "login"})
	}
	c := &Controller{
		session:   sessions,
		access:    access,
		signOuter: signOuter,
		config:    config,
		logger:    logger,
	}
	if sessions != nil && access != nil {
		sessions.Subscribe(c.onAccessToken)
	}
	return c
}

// onAccessToken feeds every new user-session access token to service
// access. A terminal access failure recovers on the next refresh.
func (c *Controller) onAccessToken(accessToken string) {
	c.access.UpdateUserSessionAccessToken(accessToken)
	if accessToken != "" {
		c.access.StartAuthAccess(accessToken)
	}
}

// OnLoginComplete registers fn to run after every completed login.
// Listeners run synchronously in registration order.
func (c *Controller) OnLoginComplete(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SignInURL returns the sign-in page URL with the configured redirectType.
func (c *Controller) SignInURL() (string, error) {
	u, err := url.Parse(c.config.SignInEndpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.ConfigError("invalid sign-in endpoint").WithCause(err)
	}
	q := u.Query()
	if c.config.RedirectType != "" {
		q.Set("redirectType", c.config.RedirectType)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BeginLogin marks a login as in progress and returns its ID together with
// the sign-in URL to open.
func (c *Controller) BeginLogin() (string, string, error) {
	signInURL, err := c.SignInURL()
	if err != nil {
		return "", "", err
	}

	loginID := utils.NewLoginID()
	c.mu.Lock()
	c.pending = loginID
	c.mu.Unlock()

	c.logger.Info("Login started", logging.String("login_id", loginID))
	return loginID, signInURL, nil
}

// CancelLogin drops the in-progress login, if any.
func (c *Controller) CancelLogin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = ""
}

// CompleteLogin installs the tokens from a callback, starts service access
// and notifies listeners.
func (c *Controller) CompleteLogin(ctx context.Context, accessToken, refreshToken string) error {
	if refreshToken == "" {
		return errors.ValidationError("callback carries no refresh token")
	}

	c.mu.Lock()
	loginID := c.pending
	c.pending = ""
	listeners := append([]func(Event){}, c.listeners...)
	c.mu.Unlock()

	if loginID == "" {
		loginID = utils.NewLoginID()
	}
	logger := c.logger.WithContext(logging.ContextWithLoginID(ctx, loginID))

	previous := c.session.CurrentAccessToken()
	if err := c.session.SetUserSession(ctx, refreshToken, accessToken); err != nil {
		if errors.IsType(err, errors.ErrTypeValidation) {
			return err
		}
		// The session is held and refreshed even when persisting failed.
		logger.Warn("User session not persisted", logging.Err(err))
	}
	// An unchanged access token is not published to subscribers.
	if accessToken != "" && accessToken == previous {
		c.access.StartAuthAccess(accessToken)
	}

	logger.Info("Login complete")
	event := Event{LoginID: loginID, CompletedAt: time.Now()}
	for _, fn := range listeners {
		fn(event)
	}
	return nil
}

// HandleCallback parses a callback URL and completes the login.
func (c *Controller) HandleCallback(ctx context.Context, rawURL string) error {
	accessToken, refreshToken, err := ParseCallback(rawURL)
	if err != nil {
		return err
	}
	return c.CompleteLogin(ctx, accessToken, refreshToken)
}

// Logout stops the user session, then service access, and finally signs
// the released refresh token out at the identity service. The remote
// sign-out is best effort; its failure is logged only.
func (c *Controller) Logout(ctx context.Context) error {
	c.CancelLogin()

	refreshToken, stopErr := c.session.Release(ctx)
	c.access.StopAuthAccess()

	if refreshToken != "" && c.signOuter != nil {
		signOutCtx, cancel := context.WithTimeout(ctx, signOutTimeout)
		if err := c.signOuter.SignOut(signOutCtx, refreshToken); err != nil {
			c.logger.Warn("Remote sign-out failed", logging.Err(err))
		}
		cancel()
	}

	if stopErr != nil {
		return errors.InternalError("failed to clear stored session", stopErr)
	}
	c.logger.Info("Logged out")
	return nil
}

// Resume restarts a persisted session. Service access follows through the
// access token subscription; when the session was already held it is
// restarted here instead.
func (c *Controller) Resume(ctx context.Context) error {
	previous := c.session.CurrentAccessToken()
	if err := c.session.Start(ctx); err != nil {
		return err
	}
	current := c.session.CurrentAccessToken()
	if c.session.IsSessionActive() && current != "" && current == previous {
		c.access.StartAuthAccess(current)
	}
	return nil
}

// IsLoggedIn reports whether a user session is held.
func (c *Controller) IsLoggedIn() bool {
	return c.session.IsSessionActive()
}

// Status returns a snapshot of the login state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	inProgress := c.pending != ""
	c.mu.Unlock()

	return Status{
		LoggedIn:         c.session.IsSessionActive(),
		LoginInProgress:  inProgress,
		State:            c.session.State().String(),
		HasServiceAccess: c.access.HasServiceAccess(),
	}
}

// ParseCallback extracts accessToken and refreshToken from a callback URL.
// Parameters may sit in the query or the fragment and their names match
// case-insensitively.
func ParseCallback(rawURL string) (accessToken, refreshToken string, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", errors.ValidationError("malformed callback URL")
	}

	params := callbackParams(u.RawQuery)
	for k, v := range callbackParams(u.EscapedFragment()) {
		if _, ok := params[k]; !ok {
			params[k] = v
		}
	}

	accessToken = params["accesstoken"]
	refreshToken = params["refreshtoken"]
	if accessToken == "" || refreshToken == "" {
		return "", "", errors.ValidationError("callback must carry accessToken and refreshToken")
	}
	return accessToken, refreshToken, nil
}

// callbackParams parses name=value pairs with lowercased names. The first
// occurrence of a name wins.
func callbackParams(raw string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
		value = strings.TrimSpace(value)
		if _, ok := params[name]; !ok && name != "" {
			params[name] = value
		}
	}
	return params
}
