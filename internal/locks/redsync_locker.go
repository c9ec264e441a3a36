package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/redis"
)

// DefaultExpiry is how long a lock survives a crashed holder.
const DefaultExpiry = 30 * time.Second

// RedsyncLocker implements RefreshLocker with the Redlock algorithm from
// go-redsync/redsync/v4. Held locks are extended in the background until
// released.
type RedsyncLocker struct {
	redsync *redsync.Redsync
	expiry  time.Duration
	tries   int
	logger  logging.Logger
}

// RedsyncOption configures a RedsyncLocker
type RedsyncOption func(*RedsyncLocker)

// WithExpiry sets the lock expiry. Locks are renewed at a third of it.
func WithExpiry(expiry time.Duration) RedsyncOption {
	return func(l *RedsyncLocker) {
		if expiry > 0 {
			l.expiry = expiry
		}
	}
}

// WithTries sets how many times Acquire retries a contended lock
func WithTries(tries int) RedsyncOption {
	return func(l *RedsyncLocker) {
		if tries > 0 {
			l.tries = tries
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) RedsyncOption {
	return func(l *RedsyncLocker) {
		l.logger = logger
	}
}

// NewRedsyncLocker creates a locker on top of a connected Redis client
func NewRedsyncLocker(redisClient *redis.Client, opts ...RedsyncOption) (*RedsyncLocker, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())
	l := &RedsyncLocker{
		redsync: redsync.New(pool),
		expiry:  DefaultExpiry,
		tries:   64,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "locks"})
	}
	return l, nil
}

// Acquire takes the lock for key and starts renewing it
func (l *RedsyncLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	mutex := l.redsync.NewMutex(fmt.Sprintf("lock:%s", key),
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.UnavailableError(fmt.Sprintf("lock '%s'", key), err)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	lock := &redsyncLock{
		mutex:  mutex,
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.renew(renewCtx, lock)

	l.logger.Debug("Lock acquired", logging.String("key", key))
	return lock, nil
}

// renew extends the lock at a third of its expiry until released. A failed
// extension means the lock is lost; renewal stops and Release becomes a
// best-effort unlock.
func (l *RedsyncLocker) renew(ctx context.Context, lock *redsyncLock) {
	defer close(lock.done)

	interval := l.expiry / 3
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			ok, err := lock.mutex.ExtendContext(extendCtx)
			cancel()
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				l.logger.Warn("Lock lost", logging.String("key", lock.key), logging.Err(err))
				return
			}
		}
	}
}

type redsyncLock struct {
	mutex  *redsync.Mutex
	key    string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (rl *redsyncLock) Key() string {
	return rl.key
}

// Release stops renewal and unlocks
func (rl *redsyncLock) Release(ctx context.Context) error {
	rl.once.Do(func() {
		rl.cancel()
		<-rl.done

		if _, err := rl.mutex.UnlockContext(ctx); err != nil {
			rl.err = errors.InternalError(fmt.Sprintf("failed to release lock '%s'", rl.key), err)
		}
	})
	return rl.err
}
