// Package expiry decides when a credential must be refreshed.
//
// Expiry times are unix seconds. An unset (zero or negative) expiry always
// counts as expired, and so does an empty token.
package expiry

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Policy evaluates token expiry against an injectable clock.
type Policy struct {
	now func() time.Time
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Policy using time.Now unless overridden.
func New(opts ...Option) *Policy {
	p := &Policy{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Now returns the policy's current time.
func (p *Policy) Now() time.Time {
	return p.now()
}

// IsEmptyOrExpiring reports whether token must be refreshed now: it is empty,
// its expiry is unset, or fewer than margin seconds remain before expiresAt.
func (p *Policy) IsEmptyOrExpiring(token string, expiresAt int64, margin time.Duration) bool {
	if token == "" {
		return true
	}
	if expiresAt <= 0 {
		return true
	}
	return expiresAt-p.now().Unix() <= int64(margin/time.Second)
}

// IsTokenExpiring applies IsEmptyOrExpiring using the token's own JWT exp
// claim. Tokens that are not JWTs, or carry no exp, count as expiring.
func (p *Policy) IsTokenExpiring(token string, margin time.Duration) bool {
	return p.IsEmptyOrExpiring(token, ExpiresAt(token), margin)
}

// RefreshTokenUsable reports whether a refresh token can still be presented:
// it must be a JWT whose exp claim has not passed. Tokens that cannot be
// parsed count as expired.
func (p *Policy) RefreshTokenUsable(token string) bool {
	return !p.IsTokenExpiring(token, 0)
}

// ExpiresAt returns the exp claim of an unverified JWT in unix seconds, or 0
// when the token is not a JWT or has no exp.
func ExpiresAt(token string) int64 {
	exp, _ := expiresAt(token)
	return exp
}

func expiresAt(token string) (int64, bool) {
	if token == "" {
		return 0, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return 0, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Unix(), true
}

var defaultPolicy = New()

// IsEmptyOrExpiring evaluates against the wall clock.
func IsEmptyOrExpiring(token string, expiresAt int64, margin time.Duration) bool {
	return defaultPolicy.IsEmptyOrExpiring(token, expiresAt, margin)
}
