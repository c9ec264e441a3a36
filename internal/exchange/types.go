// Package exchange talks to the remote identity service: it trades a refresh
// token for a new user-session pair, trades a user-session access token for a
// service access token, and signs out.
package exchange

import (
	"context"
)

// UserSession is the result of a refresh-token exchange. ExpiresAt is the
// access token's expiry in unix seconds, 0 when unknown.
type UserSession struct {
	RefreshToken string
	AccessToken  string
	ExpiresAt    int64
}

// ServiceAccess is the result of an access exchange. ExpiresIn is the token
// lifetime in seconds, 0 when unknown.
type ServiceAccess struct {
	AccessToken string
	ExpiresIn   int64
}

// UserSessionRefresher exchanges a refresh token for a fresh pair. A nil
// result or a non-nil error both mean the exchange failed.
type UserSessionRefresher interface {
	RefreshUserSession(ctx context.Context, refreshToken string) (*UserSession, error)
}

// ServiceAccessExchanger exchanges a user-session access token for a service
// access token. A nil result or a non-nil error both mean the exchange failed.
type ServiceAccessExchanger interface {
	ExchangeForServiceAccess(ctx context.Context, userSessionAccessToken string) (*ServiceAccess, error)
}

// SignOuter revokes a refresh token at the identity service.
type SignOuter interface {
	SignOut(ctx context.Context, refreshToken string) error
}

// Client is the full token exchange capability.
type Client interface {
	UserSessionRefresher
	ServiceAccessExchanger
	SignOuter
}

// Endpoints are the remote URLs the client talks to.
type Endpoints struct {
	SignIn   string
	SignOut  string
	Identity string
	Access   string
}
