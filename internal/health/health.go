// Package health classifies auth profiles by usability at a point in time.
package health

import (
	"fmt"
	"time"

	"github.com/majorcontext/authprofiles/internal/cooldown"
	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/storage"
)

// Status is a profile's health at a point in time.
type Status string

const (
	StatusOK          Status = "ok"
	StatusExpiring    Status = "expiring"
	StatusExpired     Status = "expired"
	StatusMissing     Status = "missing"
	StatusDisabled    Status = "disabled"
	StatusCoolingDown Status = "cooling-down"
)

// Usable reports whether a profile in this status may be handed to a caller.
func (s Status) Usable() bool {
	return s == StatusOK || s == StatusExpiring
}

// DefaultWarnAfter is the expiry horizon under which a credential counts as
// expiring.
const DefaultWarnAfter = 10 * time.Minute

// Result is the outcome of a classification.
type Result struct {
	Status Status
	// Remaining is the time until expiry for ok and expiring credentials,
	// and the time until the profile becomes eligible again for disabled and
	// cooling-down ones.
	Remaining time.Duration
	// Until is the disable or cooldown end, zero otherwise.
	Until  time.Time
	Reason string
}

// Classifier computes health from a credential and its usage stats. It is a
// pure function of its inputs.
type Classifier struct {
	Policy    *cooldown.Policy
	WarnAfter time.Duration
}

// NewClassifier returns a classifier using policy and warnAfter. A nil policy
// uses the default cooldown configuration.
func NewClassifier(policy *cooldown.Policy, warnAfter time.Duration) Classifier {
	if policy == nil {
		policy = cooldown.New(cooldown.DefaultConfig())
	}
	if warnAfter <= 0 {
		warnAfter = DefaultWarnAfter
	}
	return Classifier{Policy: policy, WarnAfter: warnAfter}
}

// Classify applies, in order: disabled, cooling-down, missing, expired,
// expiring, ok.
func (c Classifier) Classify(cred credential.Credential, stats storage.UsageStats, now time.Time) Result {
	nowMs := now.UnixMilli()

	if stats.DisabledUntil > nowMs {
		until := time.UnixMilli(stats.DisabledUntil)
		return Result{Status: StatusDisabled, Until: until, Remaining: until.Sub(now), Reason: stats.DisabledReason}
	}

	if c.Policy != nil {
		if until := c.Policy.CoolingUntil(stats); now.Before(until) {
			reason := fmt.Sprintf("%d recent %s", stats.FailureCount, plural(stats.FailureCount, "failure", "failures"))
			return Result{Status: StatusCoolingDown, Until: until, Remaining: until.Sub(now), Reason: reason}
		}
	}

	if err := cred.Validate(); err != nil {
		return Result{Status: StatusMissing, Reason: err.Error()}
	}

	expires, hasExpiry := cred.ExpiresAt()
	if !hasExpiry {
		if cred.Type == credential.TypeAPIKey {
			return Result{Status: StatusOK}
		}
		return Result{Status: StatusMissing, Reason: "no expiry recorded"}
	}

	remaining := expires.Sub(now)
	switch {
	case remaining <= 0:
		return Result{Status: StatusExpired, Reason: "expired " + FormatDuration(-remaining) + " ago"}
	case remaining <= c.WarnAfter:
		return Result{Status: StatusExpiring, Remaining: remaining}
	default:
		return Result{Status: StatusOK, Remaining: remaining}
	}
}

// Describe renders a result for people, e.g. "cooling down for 3.0h (billing)".
func Describe(r Result) string {
	switch r.Status {
	case StatusDisabled:
		if r.Reason != "" {
			return fmt.Sprintf("disabled for %s (%s)", FormatDuration(r.Remaining), r.Reason)
		}
		return "disabled for " + FormatDuration(r.Remaining)
	case StatusCoolingDown:
		return fmt.Sprintf("cooling down for %s (%s)", FormatDuration(r.Remaining), r.Reason)
	case StatusMissing:
		return "needs re-authentication (" + r.Reason + ")"
	case StatusExpired:
		return r.Reason
	case StatusExpiring:
		return "expires in " + FormatDuration(r.Remaining)
	default:
		if r.Remaining > 0 {
			return "ok, expires in " + FormatDuration(r.Remaining)
		}
		return "ok"
	}
}

// FormatDuration renders a duration compactly.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.0fd", d.Hours()/24)
}

func plural(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}
