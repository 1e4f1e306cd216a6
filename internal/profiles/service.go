// Package profiles is the consumer API of the auth profile store. It is what
// the CLI and long-running gateways use: resolve a provider to a credential,
// report how the credential fared, and manage the profiles themselves.
//
// A Service holds no authoritative state. Every call re-reads the store, and
// every mutation is a single locked read-modify-write cycle.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/majorcontext/authprofiles/internal/cooldown"
	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/failover"
	"github.com/majorcontext/authprofiles/internal/health"
	"github.com/majorcontext/authprofiles/internal/journal"
	"github.com/majorcontext/authprofiles/internal/log"
	"github.com/majorcontext/authprofiles/internal/oauth"
	"github.com/majorcontext/authprofiles/internal/secrets"
	"github.com/majorcontext/authprofiles/internal/storage"
)

// ErrProfileNotFound is returned for operations on unknown profile IDs.
var ErrProfileNotFound = storage.ErrProfileNotFound

// Service implements the profile operations against one store file.
type Service struct {
	file      *storage.File
	policy    *cooldown.Policy
	warnAfter time.Duration
	refresher failover.Refresher
	secrets   *secrets.Registry
	journal   *journal.Journal
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy sets the cooldown policy. The default is cooldown.DefaultConfig.
func WithPolicy(p *cooldown.Policy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithWarnAfter sets the expiry horizon used by Resolve.
func WithWarnAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.warnAfter = d
		}
	}
}

// WithRefresher enables OAuth refresh, typically an *oauth.Manager.
func WithRefresher(r failover.Refresher) Option {
	return func(s *Service) { s.refresher = r }
}

// WithSecrets sets the registry used to resolve keyRef and tokenRef values.
func WithSecrets(r *secrets.Registry) Option {
	return func(s *Service) { s.secrets = r }
}

// WithJournal records every mutation in j.
func WithJournal(j *journal.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service for the store at file.
func New(file *storage.File, opts ...Option) *Service {
	s := &Service{
		file:      file,
		policy:    cooldown.New(cooldown.DefaultConfig()),
		warnAfter: health.DefaultWarnAfter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// File returns the underlying store accessor.
func (s *Service) File() *storage.File {
	return s.file
}

func (s *Service) selector(warnAfter time.Duration) *failover.Selector {
	opts := []failover.Option{failover.WithClock(s.now)}
	if s.refresher != nil {
		opts = append(opts, failover.WithRefresher(s.refresher))
	}
	return failover.New(s.file, health.NewClassifier(s.policy, warnAfter), opts...)
}

// Resolve selects the credential to use for provider. It never writes usage
// stats; callers report the outcome with ReportSuccess or ReportFailure.
func (s *Service) Resolve(ctx context.Context, provider credential.Provider) (*failover.Resolution, error) {
	res, err := s.selector(s.warnAfter).Resolve(ctx, provider)
	if err != nil {
		return nil, err
	}
	if res.Refreshed {
		s.record(ctx, journal.Event{ProfileID: res.ProfileID, Provider: res.Credential.Provider, Kind: journal.KindRefresh, Detail: "during resolve"})
	}
	return res, nil
}

// ResolveSecret resolves provider and returns the usable secret, following a
// keyRef or tokenRef through the secrets registry when the inline value is
// empty.
func (s *Service) ResolveSecret(ctx context.Context, provider credential.Provider) (string, *failover.Resolution, error) {
	res, err := s.Resolve(ctx, provider)
	if err != nil {
		return "", nil, err
	}
	if secret := res.Credential.Secret(); secret != "" {
		return secret, res, nil
	}
	ref := res.Credential.SecretRef()
	if ref == "" {
		return "", res, fmt.Errorf("profile %s has no secret", res.ProfileID)
	}
	if s.secrets == nil {
		return "", res, fmt.Errorf("profile %s references %s but no secret backends are configured", res.ProfileID, ref)
	}
	secret, err := s.secrets.Resolve(ctx, ref)
	if err != nil {
		return "", res, fmt.Errorf("resolving secret for profile %s: %w", res.ProfileID, err)
	}
	return secret, res, nil
}

// ReportFailure records a failed use of profileID. Stats are kept even for
// IDs that are no longer in the store.
func (s *Service) ReportFailure(ctx context.Context, profileID string, kind cooldown.Kind) (storage.UsageStats, error) {
	var stats storage.UsageStats
	var provider credential.Provider
	err := s.file.WithLock(ctx, func(st *storage.Store) (bool, error) {
		provider = providerOf(st, profileID)
		stats = s.policy.RecordFailure(st, profileID, kind, s.now())
		return true, nil
	})
	if err != nil {
		return storage.UsageStats{}, err
	}

	l := log.WithProfile(profileID)
	if stats.DisabledUntil > s.now().UnixMilli() {
		l.Info("profile disabled", "kind", kind, "reason", stats.DisabledReason,
			"until", time.UnixMilli(stats.DisabledUntil), "failure_count", stats.FailureCount)
	} else {
		l.Debug("profile failure recorded", "kind", kind, "failure_count", stats.FailureCount)
	}
	s.record(ctx, journal.Event{ProfileID: profileID, Provider: provider, Kind: journal.KindFailure, Detail: string(kind)})
	return stats, nil
}

// ReportSuccess clears the failure state of profileID and makes it the
// provider's last good profile.
func (s *Service) ReportSuccess(ctx context.Context, profileID string) error {
	var provider credential.Provider
	err := s.file.WithLock(ctx, func(st *storage.Store) (bool, error) {
		cred, ok := st.Profiles[profileID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
		}
		provider = cred.Provider
		s.policy.RecordSuccess(st, profileID, s.now())
		return true, nil
	})
	if err != nil {
		return err
	}
	log.WithProfile(profileID).Debug("profile success recorded")
	s.record(ctx, journal.Event{ProfileID: profileID, Provider: provider, Kind: journal.KindSuccess})
	return nil
}

// UpsertProfile stores cred under profileID. New profiles are appended to
// their provider's order.
func (s *Service) UpsertProfile(ctx context.Context, profileID string, cred credential.Credential) error {
	if err := credential.ValidateProfileID(profileID); err != nil {
		return err
	}
	cred.Provider = credential.NormalizeProvider(string(cred.Provider))
	if err := cred.Validate(); err != nil {
		return err
	}

	var changed bool
	err := s.file.WithLock(ctx, func(st *storage.Store) (bool, error) {
		changed = st.Upsert(profileID, cred)
		return changed, nil
	})
	if err != nil {
		return err
	}
	if changed {
		log.WithProfile(profileID).Info("profile saved", "provider", cred.Provider, "type", cred.Type)
		s.record(ctx, journal.Event{ProfileID: profileID, Provider: cred.Provider, Kind: journal.KindUpsert, Detail: string(cred.Type)})
	}
	return nil
}

// RemoveProfile deletes profileID with its order, usage and last-good
// entries.
func (s *Service) RemoveProfile(ctx context.Context, profileID string) error {
	var provider credential.Provider
	err := s.file.WithLock(ctx, func(st *storage.Store) (bool, error) {
		provider = providerOf(st, profileID)
		if !st.Remove(profileID) {
			return false, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	log.WithProfile(profileID).Info("profile removed")
	s.record(ctx, journal.Event{ProfileID: profileID, Provider: provider, Kind: journal.KindRemove})
	return nil
}

// Order returns the preference order of provider.
func (s *Service) Order(ctx context.Context, provider credential.Provider) ([]string, error) {
	st, err := s.file.Read(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.Order[credential.NormalizeProvider(string(provider))]), nil
}

// SetOrder replaces the preference order of provider. Every ID must exist
// and belong to provider. An empty list clears the order, leaving selection
// to the last good profile.
func (s *Service) SetOrder(ctx context.Context, provider credential.Provider, ids []string) error {
	provider = credential.NormalizeProvider(string(provider))
	err := s.file.WithLock(ctx, func(st *storage.Store) (bool, error) {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			cred, ok := st.Profiles[id]
			if !ok {
				return false, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
			}
			if cred.Provider != provider {
				return false, fmt.Errorf("profile %s belongs to %s, not %s", id, cred.Provider, provider)
			}
			if seen[id] {
				return false, fmt.Errorf("profile %s listed twice", id)
			}
			seen[id] = true
		}
		if slices.Equal(st.Order[provider], ids) {
			return false, nil
		}
		if len(ids) == 0 {
			delete(st.Order, provider)
		} else {
			st.Order[provider] = slices.Clone(ids)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, journal.Event{Provider: provider, Kind: journal.KindOrder, Detail: fmt.Sprint(ids)})
	return nil
}

// Refresh renews an OAuth profile.
func (s *Service) Refresh(ctx context.Context, profileID string) (credential.Credential, error) {
	if s.refresher == nil {
		return credential.Credential{}, oauth.ErrNoRefresher
	}
	cred, err := s.refresher.Refresh(ctx, profileID)
	if err != nil {
		var rfe *oauth.RefreshFailedError
		if errors.As(err, &rfe) {
			detail := "attempts=" + fmt.Sprint(rfe.Attempts)
			if rfe.Revoked {
				detail += " revoked"
			}
			s.record(ctx, journal.Event{ProfileID: profileID, Provider: rfe.Provider, Kind: journal.KindRefreshFailed, Detail: detail})
		}
		return credential.Credential{}, err
	}
	s.record(ctx, journal.Event{ProfileID: profileID, Provider: cred.Provider, Kind: journal.KindRefresh})
	return cred, nil
}

// Login runs the interactive authorization flow for provider and stores the
// result under profileID. On timeout or failure the store is unchanged.
func (s *Service) Login(ctx context.Context, provider credential.Provider, profileID string, auth oauth.InteractiveAuth, prompter oauth.Prompter, opts oauth.LoginOptions) (credential.Credential, error) {
	provider = credential.NormalizeProvider(string(provider))
	if profileID == "" {
		profileID = credential.ProfileID(provider, "default")
	}
	if err := credential.ValidateProfileID(profileID); err != nil {
		return credential.Credential{}, err
	}

	cred, err := oauth.Login(ctx, auth, provider, prompter, opts)
	if err != nil {
		return credential.Credential{}, err
	}
	if err := s.UpsertProfile(ctx, profileID, cred); err != nil {
		return credential.Credential{}, err
	}
	s.record(ctx, journal.Event{ProfileID: profileID, Provider: provider, Kind: journal.KindLogin, Detail: string(opts.Mode)})
	return cred, nil
}

// Events returns recent journal events for profileID, or for every profile
// when profileID is empty.
func (s *Service) Events(ctx context.Context, profileID string, limit int) ([]journal.Event, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(ctx, profileID, limit)
}

// record appends to the journal. Journal failures never fail the operation
// that already committed to the store.
func (s *Service) record(ctx context.Context, e journal.Event) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Append(ctx, e); err != nil {
		log.Warn("appending journal event", "kind", e.Kind, "profile_id", e.ProfileID, "error", err)
	}
}

func providerOf(st *storage.Store, profileID string) credential.Provider {
	if cred, ok := st.Profiles[profileID]; ok {
		return cred.Provider
	}
	provider, _ := credential.ParseProfileID(profileID)
	return provider
}
