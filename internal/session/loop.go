package session

import (
	"context"
	"time"

	"session-keeper/internal/common/logging"
	"session-keeper/internal/expiry"
)

// tickResult tells the loop whether to continue.
type tickResult int

const (
	tickContinue tickResult = iota
	tickCancelled
	tickTerminal
)

func (m *Manager) run(ctx context.Context, h *loopHandle) {
	defer close(h.done)

	logger := m.logger.WithContext(ctx).WithFields(logging.Uint64("generation", h.generation))
	logger.Debug("User session loop started")
	if m.hooks.OnLoopStart != nil {
		m.hooks.OnLoopStart(h.generation)
	}
	if m.hooks.OnLoopExit != nil {
		defer m.hooks.OnLoopExit(h.generation)
	}

	for {
		switch m.tick(ctx, h.generation, logger) {
		case tickCancelled:
			logger.Debug("User session loop cancelled")
			return
		case tickTerminal:
			return
		}

		if !sleep(ctx, m.pollInterval) {
			logger.Debug("User session loop cancelled")
			return
		}
	}
}

func (m *Manager) tick(ctx context.Context, generation uint64, logger logging.Logger) tickResult {
	held := m.current.Load()
	if !m.policy.IsEmptyOrExpiring(held.accessToken, held.expiresAt, m.margin) {
		m.state.Store(int32(StateIdle))
		return tickContinue
	}

	m.state.Store(int32(StateRefreshing))
	refreshToken := held.refreshToken

	if m.locker != nil {
		lock, err := m.locker.Acquire(ctx, m.lockKey)
		if err != nil {
			if ctx.Err() != nil {
				return tickCancelled
			}
			logger.Warn("Refresh lock unavailable, retrying next tick", logging.Err(err))
			m.state.Store(int32(StateIdle))
			return tickContinue
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				logger.Warn("Failed to release refresh lock", logging.Err(err))
			}
		}()

		adopted, rotated := m.adoptStored(ctx, generation, held, logger)
		if ctx.Err() != nil {
			return tickCancelled
		}
		if adopted {
			return tickContinue
		}
		if rotated != "" {
			refreshToken = rotated
		}
	}

	result, err := m.exchanger.RefreshUserSession(ctx, refreshToken)
	if ctx.Err() != nil {
		return tickCancelled
	}
	if err != nil || result == nil || result.AccessToken == "" {
		if err == nil {
			logger.Error("User session refresh returned no session", nil)
		} else {
			logger.Error("User session refresh failed, session ended", err)
		}
		m.terminate(ctx, generation)
		return tickTerminal
	}

	next := &credentials{
		refreshToken: result.RefreshToken,
		accessToken:  result.AccessToken,
		expiresAt:    result.ExpiresAt,
	}
	if next.refreshToken == "" {
		next.refreshToken = refreshToken
	}
	if !m.commit(ctx, generation, next, true) {
		return tickCancelled
	}

	logger.Info("User session refreshed",
		logging.Bool("refresh_token_rotated", next.refreshToken != held.refreshToken),
		logging.Time("expires_at", time.Unix(next.expiresAt, 0)),
	)
	return tickContinue
}

// adoptStored reloads the store under the refresh lock. When another process
// already rotated the pair and its access token is fresh, the stored pair is
// adopted. When only the refresh token differs, it is returned so the refresh
// presents the newest one.
func (m *Manager) adoptStored(ctx context.Context, generation uint64, held *credentials, logger logging.Logger) (bool, string) {
	refreshToken, accessToken, err := m.store.Load(ctx)
	if err != nil {
		logger.Warn("Failed to reload user session under lock", logging.Err(err))
		return false, ""
	}
	if refreshToken == "" || refreshToken == held.refreshToken {
		return false, ""
	}

	expiresAt := expiry.ExpiresAt(accessToken)
	if m.policy.IsEmptyOrExpiring(accessToken, expiresAt, m.margin) {
		return false, refreshToken
	}

	stored := &credentials{
		refreshToken: refreshToken,
		accessToken:  accessToken,
		expiresAt:    expiresAt,
	}
	if !m.commit(ctx, generation, stored, false) {
		return false, ""
	}
	logger.Info("Adopted user session rotated by another process")
	return true, ""
}

// commit replaces the held pair if generation is still current and ctx is
// live, persisting it when persist is set.
func (m *Manager) commit(ctx context.Context, generation uint64, next *credentials, persist bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || ctx.Err() != nil {
		return false
	}
	m.commitLocked(next)
	if persist {
		_ = m.persistLocked(ctx, next)
	}
	m.state.Store(int32(StateIdle))
	return true
}

// terminate clears and persists the empty pair after a failed refresh.
func (m *Manager) terminate(ctx context.Context, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || ctx.Err() != nil {
		return
	}
	m.commitLocked(emptyCredentials)
	_ = m.persistLocked(ctx, emptyCredentials)
	m.state.Store(int32(StateStopped))
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
