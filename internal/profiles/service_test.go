package profiles

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/authprofiles/internal/cooldown"
	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/failover"
	"github.com/majorcontext/authprofiles/internal/health"
	"github.com/majorcontext/authprofiles/internal/journal"
	"github.com/majorcontext/authprofiles/internal/oauth"
	"github.com/majorcontext/authprofiles/internal/secrets"
	"github.com/majorcontext/authprofiles/internal/storage"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T, opts ...Option) (*Service, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	file := storage.Open(filepath.Join(t.TempDir(), "auth-profiles.json"))
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return New(file, opts...), c
}

func TestUpsertThenResolve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cred := credential.APIKey("openai", "sk-roundtrip")
	cred.Email = "dev@example.com"
	require.NoError(t, svc.UpsertProfile(ctx, "openai:key-1", cred))

	res, err := svc.Resolve(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "openai:key-1", res.ProfileID)
	assert.Equal(t, cred, res.Credential)
	assert.Equal(t, health.StatusOK, res.Health.Status)
}

func TestUpsertProfile_Rejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
		cred credential.Credential
	}{
		{"empty id", "", credential.APIKey("openai", "k")},
		{"padded id", " openai:a", credential.APIKey("openai", "k")},
		{"no secret", "openai:a", credential.APIKey("openai", "")},
		{"unknown type", "openai:a", credential.Credential{Type: "cli_relay", Provider: "openai"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, svc.UpsertProfile(ctx, tt.id, tt.cred))
		})
	}

	st, err := svc.File().Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Profiles)
}

func TestUpsertProfile_NormalizesProvider(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cred := credential.Credential{Type: credential.TypeAPIKey, Provider: " Claude ", Key: "sk-ant"}
	require.NoError(t, svc.UpsertProfile(ctx, "anthropic:main", cred))

	res, err := svc.Resolve(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, credential.ProviderAnthropic, res.Credential.Provider)
}

func TestBillingFailuresDisableUntilBackoffElapses(t *testing.T) {
	svc, c := newTestService(t, WithPolicy(cooldown.New(cooldown.Config{
		BillingBackoffHours: 5,
		BillingMaxHours:     24,
	})))
	ctx := context.Background()
	require.NoError(t, svc.UpsertProfile(ctx, "openai:key-1", credential.APIKey("openai", "sk-1")))

	start := c.now
	var stats storage.UsageStats
	for range 3 {
		var err error
		stats, err = svc.ReportFailure(ctx, "openai:key-1", cooldown.KindBilling)
		require.NoError(t, err)
	}
	assert.Equal(t, start.Add(20*time.Hour).UnixMilli(), stats.DisabledUntil)
	assert.Equal(t, cooldown.ReasonBilling, stats.DisabledReason)

	_, err := svc.Resolve(ctx, "openai")
	require.Error(t, err)
	assert.ErrorIs(t, err, failover.ErrNoUsableProfile)
	var nup *failover.NoUsableProfileError
	require.ErrorAs(t, err, &nup)
	require.Len(t, nup.Candidates, 1)
	assert.Equal(t, health.StatusDisabled, nup.Candidates[0].Health.Status)

	c.now = start.Add(20*time.Hour - time.Minute)
	_, err = svc.Resolve(ctx, "openai")
	assert.ErrorIs(t, err, failover.ErrNoUsableProfile)

	c.now = start.Add(20*time.Hour + time.Second)
	res, err := svc.Resolve(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "openai:key-1", res.ProfileID)
}

func TestReportSuccess_ResetsCircuitBreaker(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.UpsertProfile(ctx, "openai:key-1", credential.APIKey("openai", "sk-1")))

	for range 6 {
		_, err := svc.ReportFailure(ctx, "openai:key-1", cooldown.KindTransient)
		require.NoError(t, err)
	}
	require.NoError(t, svc.ReportSuccess(ctx, "openai:key-1"))

	st, err := svc.File().Read(ctx)
	require.NoError(t, err)
	stats := st.Stats("openai:key-1")
	assert.Zero(t, stats.FailureCount)
	assert.Zero(t, stats.DisabledUntil)
	assert.Empty(t, stats.DisabledReason)
	assert.NotZero(t, stats.LastSuccessAt)
	assert.Equal(t, "openai:key-1", st.LastGood[credential.ProviderOpenAI])
}

func TestReportSuccess_UnknownProfile(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.ReportSuccess(context.Background(), "openai:ghost")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestReportFailure_UnknownProfileKeepsStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	stats, err := svc.ReportFailure(ctx, "openai:removed", cooldown.KindTransient)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailureCount)

	st, err := svc.File().Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, st.UsageStats, "openai:removed")
}

func TestRemoveProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.UpsertProfile(ctx, "openai:a", credential.APIKey("openai", "k")))
	require.NoError(t, svc.ReportSuccess(ctx, "openai:a"))

	require.NoError(t, svc.RemoveProfile(ctx, "openai:a"))
	assert.ErrorIs(t, svc.RemoveProfile(ctx, "openai:a"), ErrProfileNotFound)

	_, err := svc.Resolve(ctx, "openai")
	var nup *failover.NoUsableProfileError
	require.ErrorAs(t, err, &nup)
	assert.Empty(t, nup.Candidates)
}

func TestSetOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.UpsertProfile(ctx, "openai:a", credential.APIKey("openai", "ka")))
	require.NoError(t, svc.UpsertProfile(ctx, "openai:b", credential.APIKey("openai", "kb")))
	require.NoError(t, svc.UpsertProfile(ctx, "google:c", credential.APIKey("google", "kc")))

	require.NoError(t, svc.SetOrder(ctx, "openai", []string{"openai:b", "openai:a"}))
	order, err := svc.Order(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, []string{"openai:b", "openai:a"}, order)

	res, err := svc.Resolve(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "openai:b", res.ProfileID)

	assert.ErrorIs(t, svc.SetOrder(ctx, "openai", []string{"openai:zzz"}), ErrProfileNotFound)
	assert.Error(t, svc.SetOrder(ctx, "openai", []string{"google:c"}))
	assert.Error(t, svc.SetOrder(ctx, "openai", []string{"openai:a", "openai:a"}))
}

func TestHealthSummary(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertProfile(ctx, "anthropic:oauth-a",
		credential.OAuth("anthropic", "at", "", c.now.Add(-time.Hour))))
	require.NoError(t, svc.UpsertProfile(ctx, "anthropic:key-b", credential.APIKey("anthropic", "sk-b")))
	require.NoError(t, svc.UpsertProfile(ctx, "openai:tok",
		credential.Token("openai", "tk", c.now.Add(5*time.Minute))))

	rows, err := svc.HealthSummary(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byID := make(map[string]ProfileHealth)
	for _, r := range rows {
		byID[r.ProfileID] = r
	}
	assert.Equal(t, health.StatusExpired, byID["anthropic:oauth-a"].Status)
	assert.Nil(t, byID["anthropic:oauth-a"].RemainingMs)
	assert.Equal(t, health.StatusOK, byID["anthropic:key-b"].Status)
	assert.Equal(t, 2, byID["anthropic:key-b"].Rank)
	assert.Equal(t, health.StatusExpiring, byID["openai:tok"].Status)
	require.NotNil(t, byID["openai:tok"].RemainingMs)
	assert.Equal(t, (5 * time.Minute).Milliseconds(), *byID["openai:tok"].RemainingMs)

	rows, err = svc.HealthSummary(ctx, time.Minute)
	require.NoError(t, err)
	for _, r := range rows {
		if r.ProfileID == "openai:tok" {
			assert.Equal(t, health.StatusOK, r.Status)
		}
	}
}

func TestResolve_ExpiredOAuthFallsThrough(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertProfile(ctx, "anthropic:oauth-a",
		credential.OAuth("anthropic", "at", "", c.now.Add(-time.Minute))))
	require.NoError(t, svc.UpsertProfile(ctx, "anthropic:key-b", credential.APIKey("anthropic", "sk-b")))

	res, err := svc.Resolve(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic:key-b", res.ProfileID)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, health.StatusExpired, res.Skipped[0].Health.Status)
}

func TestResolveSecret(t *testing.T) {
	env := map[string]string{"OPENAI_WORK_KEY": "sk-from-env"}
	registry := secrets.NewRegistry(&secrets.EnvResolver{LookupEnv: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}})
	svc, _ := newTestService(t, WithSecrets(registry))
	ctx := context.Background()

	require.NoError(t, svc.UpsertProfile(ctx, "openai:work", credential.Credential{
		Type: credential.TypeAPIKey, Provider: "openai", KeyRef: "env://OPENAI_WORK_KEY",
	}))

	secret, res, err := svc.ResolveSecret(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", secret)
	assert.Equal(t, "openai:work", res.ProfileID)

	st, err := svc.File().Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Profiles["openai:work"].Key, "resolved secrets are never written back")

	delete(env, "OPENAI_WORK_KEY")
	_, _, err = svc.ResolveSecret(ctx, "openai")
	assert.ErrorIs(t, err, secrets.ErrNotFound)
}

type refresherFunc func(ctx context.Context, id string) (credential.Credential, error)

func (f refresherFunc) Refresh(ctx context.Context, id string) (credential.Credential, error) {
	return f(ctx, id)
}

func TestRefresh_RecordsJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer j.Close()

	calls := 0
	r := refresherFunc(func(ctx context.Context, id string) (credential.Credential, error) {
		calls++
		if calls == 1 {
			return credential.OAuth("google", "new", "rt", time.Now().Add(time.Hour)), nil
		}
		return credential.Credential{}, &oauth.RefreshFailedError{ProfileID: id, Provider: "google", Revoked: true, Attempts: 1, Err: errors.New("invalid_grant")}
	})
	svc, _ := newTestService(t, WithRefresher(r), WithJournal(j))
	ctx := context.Background()

	_, err = svc.Refresh(ctx, "google:me")
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, "google:me")
	assert.ErrorIs(t, err, oauth.ErrRefreshFailed)

	events, err := svc.Events(ctx, "google:me", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, journal.KindRefreshFailed, events[0].Kind)
	assert.Contains(t, events[0].Detail, "revoked")
	assert.Equal(t, journal.KindRefresh, events[1].Kind)
}

func TestRefresh_WithoutRefresher(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Refresh(context.Background(), "google:me")
	assert.ErrorIs(t, err, oauth.ErrNoRefresher)
}

func TestMutationsAreJournaled(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer j.Close()

	svc, _ := newTestService(t, WithJournal(j))
	ctx := context.Background()

	require.NoError(t, svc.UpsertProfile(ctx, "openai:a", credential.APIKey("openai", "k")))
	require.NoError(t, svc.UpsertProfile(ctx, "openai:a", credential.APIKey("openai", "k")))
	_, err = svc.ReportFailure(ctx, "openai:a", cooldown.KindRateLimit)
	require.NoError(t, err)
	require.NoError(t, svc.ReportSuccess(ctx, "openai:a"))
	require.NoError(t, svc.RemoveProfile(ctx, "openai:a"))

	events, err := svc.Events(ctx, "openai:a", 0)
	require.NoError(t, err)
	var kinds []journal.Kind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []journal.Kind{journal.KindRemove, journal.KindSuccess, journal.KindFailure, journal.KindUpsert}, kinds,
		"identical upsert is not journaled")
	assert.Equal(t, "rate_limit", events[2].Detail)

	n, err := j.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}
