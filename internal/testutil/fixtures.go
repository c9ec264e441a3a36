package testutil

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var signingKey = []byte("session-keeper-test-key")

// NewJWT returns an HS256 token expiring at exp
func NewJWT(exp time.Time) string {
	return NewJWTWithClaims(jwt.MapClaims{
		"sub": "test-user",
		"exp": exp.Unix(),
	})
}

// refreshTokenExpiry is fixed so that RefreshToken is deterministic
var refreshTokenExpiry = time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC)

// RefreshToken returns a long-lived JWT refresh token identified by id. The
// same id always yields the same token.
func RefreshToken(id string) string {
	return NewJWTWithClaims(jwt.MapClaims{
		"jti": id,
		"exp": refreshTokenExpiry.Unix(),
	})
}

// NewJWTWithClaims returns an HS256 token carrying claims
func NewJWTWithClaims(claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return token
}

// ManualClock is a clock tests move by hand
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock starting at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current clock time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
