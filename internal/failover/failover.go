// Package failover picks the credential to use for a provider.
//
// Candidates come from the provider's Order. LastGood is consulted only
// when the provider has no Order, so an explicit preference always wins.
// The first candidate that classifies as ok or expiring is returned;
// expiring OAuth credentials are refreshed first when a Refresher is
// configured.
package failover

import (
	"context"
	"time"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/health"
	"github.com/majorcontext/authprofiles/internal/log"
	"github.com/majorcontext/authprofiles/internal/storage"
)

// Refresher renews an OAuth profile and persists the result.
type Refresher interface {
	Refresh(ctx context.Context, profileID string) (credential.Credential, error)
}

// Resolution is the selected profile.
type Resolution struct {
	ProfileID  string
	Credential credential.Credential
	Health     health.Result

	// Refreshed reports that the credential was renewed during selection.
	Refreshed bool
	// RefreshErr is set when an expiring credential could not be renewed and
	// the still-valid credential was returned instead.
	RefreshErr error
	// FromLastGood reports that the provider had no Order and the
	// last-known-good profile was used.
	FromLastGood bool
	// Skipped lists the candidates passed over before this one.
	Skipped []Candidate
}

// Selector resolves providers against a store file.
type Selector struct {
	file       *storage.File
	classifier health.Classifier
	refresher  Refresher
	now        func() time.Time
}

// Option configures a Selector.
type Option func(*Selector)

// WithRefresher enables OAuth refresh during selection.
func WithRefresher(r Refresher) Option {
	return func(s *Selector) { s.refresher = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// New returns a Selector reading from file.
func New(file *storage.File, classifier health.Classifier, opts ...Option) *Selector {
	s := &Selector{file: file, classifier: classifier, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve reads the store and selects a profile for provider. The read is
// unlocked; only a triggered refresh takes the store lock.
func (s *Selector) Resolve(ctx context.Context, provider credential.Provider) (*Resolution, error) {
	st, err := s.file.Read(ctx)
	if err != nil {
		return nil, err
	}
	return s.Select(ctx, st, credential.NormalizeProvider(string(provider)))
}

// Select picks a profile for provider from an in-memory snapshot.
func (s *Selector) Select(ctx context.Context, st *storage.Store, provider credential.Provider) (*Resolution, error) {
	ids, fromLastGood := candidates(st, provider)
	now := s.now()

	var skipped []Candidate
	for _, id := range ids {
		cred, ok := st.Profiles[id]
		if !ok {
			skipped = append(skipped, Candidate{ProfileID: id, Health: health.Result{Status: health.StatusMissing, Reason: "profile not found"}})
			continue
		}
		if cred.Provider != provider {
			skipped = append(skipped, Candidate{ProfileID: id, Health: health.Result{Status: health.StatusMissing, Reason: "profile belongs to " + string(cred.Provider)}})
			continue
		}

		res := s.classifier.Classify(cred, st.Stats(id), now)
		switch {
		case res.Status == health.StatusExpiring && s.canRefresh(cred):
			r := &Resolution{ProfileID: id, Credential: cred, Health: res, FromLastGood: fromLastGood, Skipped: skipped}
			refreshed, err := s.refresher.Refresh(ctx, id)
			if err != nil {
				log.Warn("refresh of expiring profile failed, using current token",
					"profile_id", id, "remaining", res.Remaining, "error", err)
				r.RefreshErr = err
				return r, nil
			}
			r.Credential = refreshed
			r.Health = s.classifier.Classify(refreshed, st.Stats(id), s.now())
			r.Refreshed = true
			return r, nil

		case res.Status.Usable():
			return &Resolution{ProfileID: id, Credential: cred, Health: res, FromLastGood: fromLastGood, Skipped: skipped}, nil

		case res.Status == health.StatusExpired && s.canRefresh(cred):
			refreshed, err := s.refresher.Refresh(ctx, id)
			if err != nil {
				log.Debug("refresh of expired profile failed", "profile_id", id, "error", err)
				skipped = append(skipped, Candidate{ProfileID: id, Health: res, RefreshErr: err})
				continue
			}
			after := s.classifier.Classify(refreshed, st.Stats(id), s.now())
			if !after.Status.Usable() {
				skipped = append(skipped, Candidate{ProfileID: id, Health: after})
				continue
			}
			return &Resolution{ProfileID: id, Credential: refreshed, Health: after, Refreshed: true, FromLastGood: fromLastGood, Skipped: skipped}, nil
		}

		skipped = append(skipped, Candidate{ProfileID: id, Health: res})
	}

	return nil, &NoUsableProfileError{Provider: provider, Candidates: skipped}
}

func (s *Selector) canRefresh(cred credential.Credential) bool {
	return s.refresher != nil && cred.CanRefresh()
}

// candidates returns the IDs to try in order and whether they came from
// LastGood.
func candidates(st *storage.Store, provider credential.Provider) ([]string, bool) {
	if ids := st.Order[provider]; len(ids) > 0 {
		return ids, false
	}
	if id, ok := st.LastGood[provider]; ok && id != "" {
		return []string{id}, true
	}
	return nil, false
}
