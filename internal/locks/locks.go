// Package locks serializes credential refreshes across processes that share
// one session store.
//
// A refresh token may be single-use: when two instances present the same
// token, the loser's session is revoked. Holding a RefreshLocker lock around
// the reload-refresh-save sequence lets only one instance rotate the pair;
// the others adopt what it saved.
package locks

import (
	"context"
)

// Lock is a held lock. Release is safe to call more than once.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// RefreshLocker hands out exclusive locks by key. Acquire blocks until the
// lock is held, ctx is done or the locker gives up.
type RefreshLocker interface {
	Acquire(ctx context.Context, key string) (Lock, error)
}

// NoopLocker grants every lock immediately. It is used when a single process
// owns the store.
type NoopLocker struct{}

// Acquire returns a lock that guards nothing
func (NoopLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return noopLock(key), nil
}

type noopLock string

func (l noopLock) Key() string {
	return string(l)
}

func (noopLock) Release(context.Context) error {
	return nil
}

var (
	_ RefreshLocker = NoopLocker{}
	_ RefreshLocker = (*RedsyncLocker)(nil)
)
