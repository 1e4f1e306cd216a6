package health

import (
	"testing"
	"time"

	"github.com/majorcontext/authprofiles/internal/cooldown"
	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/storage"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClassifier(cooldown.New(cooldown.DefaultConfig()), 10*time.Minute)

	future := now.Add(2 * time.Hour)
	soon := now.Add(5 * time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name          string
		cred          credential.Credential
		stats         storage.UsageStats
		want          Status
		wantRemaining time.Duration
	}{
		{
			name: "api key without expiry",
			cred: credential.APIKey("openai", "sk"),
			want: StatusOK,
		},
		{
			name: "api key ref",
			cred: credential.Credential{Type: credential.TypeAPIKey, Provider: "openai", KeyRef: "env://OPENAI_API_KEY"},
			want: StatusOK,
		},
		{
			name: "oauth valid",
			cred: credential.OAuth("anthropic", "a", "r", future),
			want: StatusOK, wantRemaining: 2 * time.Hour,
		},
		{
			name: "oauth expiring",
			cred: credential.OAuth("anthropic", "a", "r", soon),
			want: StatusExpiring, wantRemaining: 5 * time.Minute,
		},
		{
			name: "expiry exactly at warn horizon",
			cred: credential.OAuth("anthropic", "a", "r", now.Add(10*time.Minute)),
			want: StatusExpiring, wantRemaining: 10 * time.Minute,
		},
		{
			name: "oauth expired",
			cred: credential.OAuth("anthropic", "a", "r", past),
			want: StatusExpired,
		},
		{
			name: "expiry equal to now is expired",
			cred: credential.OAuth("anthropic", "a", "r", now),
			want: StatusExpired,
		},
		{
			name: "oauth without expiry",
			cred: credential.OAuth("anthropic", "a", "r", time.Time{}),
			want: StatusMissing,
		},
		{
			name: "token without expiry",
			cred: credential.Token("anthropic", "tok", time.Time{}),
			want: StatusMissing,
		},
		{
			name: "token with expiry",
			cred: credential.Token("anthropic", "tok", future),
			want: StatusOK, wantRemaining: 2 * time.Hour,
		},
		{
			name: "empty credential",
			cred: credential.Credential{Type: credential.TypeToken, Provider: "anthropic"},
			want: StatusMissing,
		},
		{
			name:  "disabled wins over valid credential",
			cred:  credential.APIKey("openai", "sk"),
			stats: storage.UsageStats{DisabledUntil: now.Add(3 * time.Hour).UnixMilli(), DisabledReason: "billing"},
			want:  StatusDisabled, wantRemaining: 3 * time.Hour,
		},
		{
			name:  "disabled wins over expired credential",
			cred:  credential.OAuth("anthropic", "a", "", past),
			stats: storage.UsageStats{DisabledUntil: now.Add(time.Hour).UnixMilli()},
			want:  StatusDisabled, wantRemaining: time.Hour,
		},
		{
			name:  "disable elapsed",
			cred:  credential.APIKey("openai", "sk"),
			stats: storage.UsageStats{DisabledUntil: now.UnixMilli()},
			want:  StatusOK,
		},
		{
			name:  "cooling down after recent failure",
			cred:  credential.APIKey("openai", "sk"),
			stats: storage.UsageStats{FailureCount: 2, LastFailureAt: now.Add(-time.Minute).UnixMilli()},
			want:  StatusCoolingDown, wantRemaining: 4 * time.Minute,
		},
		{
			name:  "cooldown elapsed",
			cred:  credential.APIKey("openai", "sk"),
			stats: storage.UsageStats{FailureCount: 1, LastFailureAt: now.Add(-2 * time.Minute).UnixMilli()},
			want:  StatusOK,
		},
		{
			name:  "cooling down wins over missing",
			cred:  credential.OAuth("anthropic", "a", "r", time.Time{}),
			stats: storage.UsageStats{FailureCount: 1, LastFailureAt: now.UnixMilli()},
			want:  StatusCoolingDown, wantRemaining: time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.cred, tt.stats, now)
			if got.Status != tt.want {
				t.Fatalf("Classify() status = %q (%s), want %q", got.Status, got.Reason, tt.want)
			}
			if tt.wantRemaining != 0 && got.Remaining != tt.wantRemaining {
				t.Errorf("Classify() remaining = %v, want %v", got.Remaining, tt.wantRemaining)
			}
			if again := c.Classify(tt.cred, tt.stats, now); again != got {
				t.Errorf("Classify() not deterministic: %+v then %+v", got, again)
			}
		})
	}
}

func TestClassify_NilPolicySkipsCooldown(t *testing.T) {
	now := time.Now()
	c := Classifier{WarnAfter: time.Minute}
	got := c.Classify(credential.APIKey("openai", "sk"), storage.UsageStats{FailureCount: 3, LastFailureAt: now.UnixMilli()}, now)
	if got.Status != StatusOK {
		t.Errorf("status = %q, want ok", got.Status)
	}
}

func TestStatusUsable(t *testing.T) {
	usable := map[Status]bool{
		StatusOK:          true,
		StatusExpiring:    true,
		StatusExpired:     false,
		StatusMissing:     false,
		StatusDisabled:    false,
		StatusCoolingDown: false,
	}
	for s, want := range usable {
		if s.Usable() != want {
			t.Errorf("%s.Usable() = %v, want %v", s, s.Usable(), want)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		r    Result
		want string
	}{
		{Result{Status: StatusDisabled, Remaining: 3 * time.Hour, Reason: "billing"}, "disabled for 3.0h (billing)"},
		{Result{Status: StatusCoolingDown, Remaining: 5 * time.Minute, Reason: "2 recent failures"}, "cooling down for 5m (2 recent failures)"},
		{Result{Status: StatusExpiring, Remaining: 90 * time.Second}, "expires in 2m"},
		{Result{Status: StatusExpired, Reason: "expired 1m ago"}, "expired 1m ago"},
		{Result{Status: StatusOK}, "ok"},
	}
	for _, tt := range tests {
		if got := Describe(tt.r); got != tt.want {
			t.Errorf("Describe(%+v) = %q, want %q", tt.r, got, tt.want)
		}
	}
}
