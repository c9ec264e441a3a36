package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
)

func testConfig(maxFailures int) Config {
	return Config{
		MaxFailures:           maxFailures,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	}
}

func TestGoBreakerAdapter(t *testing.T) {
	logger := logging.NewNopLogger()
	ctx := context.Background()

	t.Run("basic operation", func(t *testing.T) {
		cb := NewGoBreaker("identity", testConfig(2), logger)
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, "identity", cb.Name())

		err := cb.Execute(ctx, func() error { return nil })
		assert.NoError(t, err)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("circuit opens after failures", func(t *testing.T) {
		cb := NewGoBreaker("access", testConfig(3), logger)

		for i := 0; i < 3; i++ {
			err := cb.Execute(ctx, func() error {
				return errors.ConnectionError("endpoint unreachable", fmt.Errorf("attempt %d", i))
			})
			assert.Error(t, err)
		}

		assert.Equal(t, StateOpen, cb.State())
		assert.True(t, cb.IsOpen())

		err := cb.Execute(ctx, func() error {
			t.Fatal("should not be called while open")
			return nil
		})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeUnavailable))
	})

	t.Run("circuit recovers through half-open", func(t *testing.T) {
		cb := NewGoBreaker("recover", testConfig(1), logger)

		_ = cb.Execute(ctx, func() error { return fmt.Errorf("failure") })
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, StateHalfOpen, cb.State())

		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("validation errors do not trip", func(t *testing.T) {
		cb := NewGoBreaker("validation", testConfig(1), logger)

		for i := 0; i < 3; i++ {
			err := cb.Execute(ctx, func() error { return errors.ValidationError("empty token") })
			assert.Error(t, err)
		}
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancellation does not trip", func(t *testing.T) {
		cb := NewGoBreaker("cancel", testConfig(1), logger)

		err := cb.Execute(ctx, func() error { return context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancelled context skips call", func(t *testing.T) {
		cb := NewGoBreaker("skip", testConfig(1), logger)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		called := false
		err := cb.Execute(cancelled, func() error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("invalid config falls back to defaults", func(t *testing.T) {
		cb := NewGoBreaker("invalid", Config{}, logger)
		for i := 0; i < 4; i++ {
			_ = cb.Execute(ctx, func() error { return fmt.Errorf("failure") })
		}
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, uint32(4), cb.Stats().ConsecutiveFailures)
	})
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxFailures: 0, Timeout: time.Second, MaxConcurrentRequests: 1}.Validate())
	assert.Error(t, Config{MaxFailures: 1, Timeout: 0, MaxConcurrentRequests: 1}.Validate())
	assert.Error(t, Config{MaxFailures: 1, Timeout: time.Second}.Validate())
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(testConfig(2), logging.NewNopLogger())

	identity := registry.Get("identity")
	assert.Same(t, identity, registry.Get("identity"))
	assert.NotSame(t, identity, registry.Get("access"))

	_ = identity.Execute(context.Background(), func() error { return nil })

	stats := registry.Stats()
	assert.Len(t, stats, 2)
}
