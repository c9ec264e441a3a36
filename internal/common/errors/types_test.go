package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "basic error",
			appError: ConfigError("IDENTITY_ENDPOINT is required"),
			want:     "config: IDENTITY_ENDPOINT is required",
		},
		{
			name:     "error with code",
			appError: AuthError("refresh token rejected").WithCode("401"),
			want:     "authentication: refresh token rejected: code=401",
		},
		{
			name:     "error with cause",
			appError: ConnectionError("identity endpoint unreachable", errors.New("dial tcp: refused")),
			want:     "connection: identity endpoint unreachable: cause=dial tcp: refused",
		},
		{
			name: "context keys are sorted",
			appError: ValidationError("callback missing parameter").
				WithContext("param", "refreshToken").
				WithContext("from", "query"),
			want: "validation: callback missing parameter: context={from=query, param=refreshToken}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, ErrTypeNotFound, NotFoundError("session").Type)
	assert.Equal(t, "session not found", NotFoundError("session").Message)
	assert.Equal(t, "timeout during token refresh", TimeoutError("token refresh").Message)
	assert.Equal(t, ErrTypeInternal, InternalError("decode failed", cause).Type)

	unavailable := UnavailableError("identity endpoint", cause)
	assert.Equal(t, ErrTypeUnavailable, unavailable.Type)
	assert.ErrorIs(t, unavailable, cause)

	assert.ErrorIs(t, AuthError("rejected").WithCause(cause), cause)
}

func TestIsType(t *testing.T) {
	authErr := AuthError("rejected")
	wrapped := fmt.Errorf("refresh user session: %w", authErr)

	assert.True(t, IsType(authErr, ErrTypeAuth))
	assert.True(t, IsType(wrapped, ErrTypeAuth))
	assert.False(t, IsType(wrapped, ErrTypeConnection))
	assert.False(t, IsType(errors.New("plain"), ErrTypeAuth))
	assert.False(t, IsType(nil, ErrTypeAuth))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorType(""), GetType(nil))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
	assert.Equal(t, ErrTypeValidation, GetType(fmt.Errorf("wrap: %w", ValidationError("bad"))))
}
