package profiles

import (
	"context"
	"time"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/health"
	"github.com/majorcontext/authprofiles/internal/storage"
)

// ProfileHealth is one row of a health summary. Rank is the 1-based position
// in the provider's order, 0 if unordered. RemainingMs is nil when the status
// has no associated duration.
type ProfileHealth struct {
	ProfileID   string              `json:"profileId"`
	Provider    credential.Provider `json:"provider"`
	Type        credential.Type     `json:"type"`
	Status      health.Status       `json:"status"`
	Remaining   time.Duration       `json:"-"`
	RemainingMs *int64              `json:"remainingMs,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Email       string              `json:"email,omitempty"`
	Rank        int                 `json:"rank,omitempty"`
	LastGood    bool                `json:"lastGood,omitempty"`
	Failures    int                 `json:"failureCount,omitempty"`
	LastUsedMs  int64               `json:"lastUsed,omitempty"`
}

// HealthSummary classifies every profile, grouped by provider and listed in
// preference order within each provider. A zero warnAfter uses the
// service's configured horizon.
func (s *Service) HealthSummary(ctx context.Context, warnAfter time.Duration) ([]ProfileHealth, error) {
	st, err := s.file.Read(ctx)
	if err != nil {
		return nil, err
	}
	if warnAfter <= 0 {
		warnAfter = s.warnAfter
	}
	return Summarize(st, health.NewClassifier(s.policy, warnAfter), s.now()), nil
}

// Summarize classifies every profile of st at now.
func Summarize(st *storage.Store, c health.Classifier, now time.Time) []ProfileHealth {
	var out []ProfileHealth
	for _, provider := range st.Providers() {
		order := st.Order[provider]
		for _, p := range st.ProfilesFor(provider) {
			stats := st.Stats(p.ID)
			res := c.Classify(p.Credential, stats, now)
			row := ProfileHealth{
				ProfileID:  p.ID,
				Provider:   provider,
				Type:       p.Credential.Type,
				Status:     res.Status,
				Remaining:  res.Remaining,
				Reason:     res.Reason,
				Email:      p.Credential.Email,
				LastGood:   st.LastGood[provider] == p.ID,
				Failures:   stats.FailureCount,
				LastUsedMs: stats.LastUsed,
			}
			if res.Remaining > 0 {
				ms := res.Remaining.Milliseconds()
				row.RemainingMs = &ms
			}
			for i, id := range order {
				if id == p.ID {
					row.Rank = i + 1
					break
				}
			}
			out = append(out, row)
		}
	}
	return out
}
