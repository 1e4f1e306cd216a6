// Package oauth manages the OAuth token lifecycle of auth profiles: refresh
// of stored credentials and the interactive authorization flow that
// produces new ones.
//
// Network calls never run under the store lock. A refresh reads the
// credential, talks to the token endpoint, then takes the lock only to
// write the result back.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/log"
	"github.com/majorcontext/authprofiles/internal/storage"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
)

// Manager refreshes oauth profiles and persists the new tokens.
type Manager struct {
	file       *storage.File
	refreshers map[credential.Provider]TokenRefresher
	attempts   int
	backoff    time.Duration
	group      singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTokenRefresher registers the refresher for a provider.
func WithTokenRefresher(provider credential.Provider, r TokenRefresher) ManagerOption {
	return func(m *Manager) {
		m.refreshers[credential.NormalizeProvider(string(provider))] = r
	}
}

// WithRetry sets the number of attempts for retryable failures and the
// initial backoff, which doubles after each attempt.
func WithRetry(attempts int, backoff time.Duration) ManagerOption {
	return func(m *Manager) {
		if attempts > 0 {
			m.attempts = attempts
		}
		if backoff >= 0 {
			m.backoff = backoff
		}
	}
}

// NewManager returns a manager writing to file.
func NewManager(file *storage.File, opts ...ManagerOption) *Manager {
	m := &Manager{
		file:       file,
		refreshers: make(map[credential.Provider]TokenRefresher),
		attempts:   defaultAttempts,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanRefresh reports whether a refresher is registered for provider.
func (m *Manager) CanRefresh(provider credential.Provider) bool {
	_, ok := m.refreshers[provider]
	return ok
}

// Refresh renews the oauth credential stored under profileID and writes it
// back. Concurrent calls for the same profile within a process share one
// token request. If another process stored a newer token in the meantime,
// that token is kept and returned.
func (m *Manager) Refresh(ctx context.Context, profileID string) (credential.Credential, error) {
	v, err, _ := m.group.Do(profileID, func() (any, error) {
		return m.refresh(ctx, profileID)
	})
	if err != nil {
		return credential.Credential{}, err
	}
	return v.(credential.Credential), nil
}

func (m *Manager) refresh(ctx context.Context, profileID string) (credential.Credential, error) {
	st, err := m.file.Read(ctx)
	if err != nil {
		return credential.Credential{}, err
	}
	cred, ok := st.Profiles[profileID]
	if !ok {
		return credential.Credential{}, fmt.Errorf("%w: %s", storage.ErrProfileNotFound, profileID)
	}
	if cred.Type != credential.TypeOAuth {
		return credential.Credential{}, fmt.Errorf("%s: %w", profileID, ErrNotOAuth)
	}

	fail := func(err error, attempts int) error {
		return &RefreshFailedError{
			ProfileID: profileID,
			Provider:  cred.Provider,
			Revoked:   IsRevoked(err),
			Attempts:  attempts,
			Err:       err,
		}
	}
	if cred.Refresh == "" {
		return credential.Credential{}, fail(ErrNoRefreshToken, 0)
	}
	refresher, ok := m.refreshers[cred.Provider]
	if !ok {
		return credential.Credential{}, fail(fmt.Errorf("%w %s", ErrNoRefresher, cred.Provider), 0)
	}

	refreshed, attempts, err := m.exchange(ctx, refresher, cred)
	if err != nil {
		log.Warn("oauth refresh failed", "profile_id", profileID, "attempts", attempts, "revoked", IsRevoked(err), "error", err)
		return credential.Credential{}, fail(err, attempts)
	}

	result := refreshed
	err = m.file.WithLock(ctx, func(s *storage.Store) (bool, error) {
		cur, ok := s.Profiles[profileID]
		if !ok {
			return false, fmt.Errorf("%w: %s (removed during refresh)", storage.ErrProfileNotFound, profileID)
		}
		if cur.Type == credential.TypeOAuth && cur.Access != cred.Access && cur.Expires >= refreshed.Expires {
			log.Debug("keeping token refreshed by another process", "profile_id", profileID)
			result = cur
			return false, nil
		}
		if cur.Type == credential.TypeOAuth {
			refreshed.Email = cur.Email
			refreshed.Metadata = cur.Metadata
		}
		result = refreshed
		s.Profiles[profileID] = refreshed
		return true, nil
	})
	if err != nil {
		return credential.Credential{}, err
	}

	if exp, ok := result.ExpiresAt(); ok {
		log.Info("oauth token refreshed", "profile_id", profileID, "expires_in", time.Until(exp).Round(time.Second))
	}
	return result, nil
}

// exchange calls the refresher, retrying transport failures with doubling
// backoff.
func (m *Manager) exchange(ctx context.Context, r TokenRefresher, cred credential.Credential) (credential.Credential, int, error) {
	backoff := m.backoff
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		refreshed, err := r.RefreshToken(ctx, cred)
		if err == nil {
			return refreshed, attempt, nil
		}
		lastErr = err
		if !retryable(err) || attempt == m.attempts {
			return credential.Credential{}, attempt, err
		}

		log.Debug("oauth refresh attempt failed, retrying", "provider", cred.Provider, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return credential.Credential{}, attempt, errors.Join(lastErr, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return credential.Credential{}, m.attempts, lastErr
}
