// Package cooldown converts reported failures into disable and cooldown
// windows on a profile's usage stats.
//
// Billing failures disable a profile with exponential backoff in hours.
// Other failures only count; the cooling-down window is derived from the
// count and the time of the last failure and is never stored. Enough
// failures inside the failure window disable the profile for a short fixed
// period so a broken credential is not hot-looped.
package cooldown

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/storage"
)

// Kind classifies a reported failure.
type Kind string

const (
	KindBilling   Kind = "billing"
	KindTransient Kind = "transient"
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
)

// Disable reasons recorded in UsageStats.DisabledReason.
const (
	ReasonBilling  = "billing"
	ReasonFailures = "failures"
)

// ParseKind parses a failure kind. The empty string is transient.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindTransient, nil
	case KindBilling, KindTransient, KindAuth, KindRateLimit:
		return k, nil
	default:
		return "", fmt.Errorf("unknown failure kind %q (want billing, transient, auth or rate_limit)", s)
	}
}

// maxBillingExponent caps the doubling of the billing backoff.
const maxBillingExponent = 4

// Transient cooldown schedule: 1m, 5m, 25m, then 1h.
const (
	transientBase = time.Minute
	transientMax  = time.Hour
)

// Config is the cooldown configuration. Zero fields take defaults.
type Config struct {
	BillingBackoffHours           float64
	BillingBackoffHoursByProvider map[credential.Provider]float64
	BillingMaxHours               float64
	FailureWindowHours            float64

	// DisableThreshold is the number of failures inside the failure window
	// that disables the profile for DisableWindow.
	DisableThreshold int
	DisableWindow    time.Duration
}

// DefaultConfig returns the built-in cooldown configuration.
func DefaultConfig() Config {
	return Config{
		BillingBackoffHours: 5,
		BillingMaxHours:     24,
		FailureWindowHours:  24,
		DisableThreshold:    5,
		DisableWindow:       15 * time.Minute,
	}
}

// Policy applies a Config to usage stats.
type Policy struct {
	cfg Config
}

// New returns a policy for cfg, filling unset fields from DefaultConfig.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.BillingBackoffHours <= 0 {
		cfg.BillingBackoffHours = def.BillingBackoffHours
	}
	if cfg.BillingMaxHours <= 0 {
		cfg.BillingMaxHours = def.BillingMaxHours
	}
	if cfg.FailureWindowHours <= 0 {
		cfg.FailureWindowHours = def.FailureWindowHours
	}
	if cfg.DisableThreshold <= 0 {
		cfg.DisableThreshold = def.DisableThreshold
	}
	if cfg.DisableWindow <= 0 {
		cfg.DisableWindow = def.DisableWindow
	}
	return &Policy{cfg: cfg}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// BillingBackoff returns the disable duration for a billing failure given
// the number of failures already recorded. A per-provider base replaces the
// global base; the result never exceeds BillingMaxHours.
func (p *Policy) BillingBackoff(provider credential.Provider, priorFailures int) time.Duration {
	base := p.cfg.BillingBackoffHours
	if override, ok := p.cfg.BillingBackoffHoursByProvider[provider]; ok && override > 0 {
		base = override
	}
	exp := min(max(priorFailures, 0), maxBillingExponent)
	hours := math.Min(p.cfg.BillingMaxHours, base*math.Pow(2, float64(exp)))
	return time.Duration(hours * float64(time.Hour))
}

// TransientCooldown returns the cooling-down window after the given number
// of consecutive failures.
func TransientCooldown(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := transientBase
	for range min(failures-1, 3) {
		d *= 5
	}
	return min(d, transientMax)
}

// FailureWindow returns the window after which failure counts restart.
func (p *Policy) FailureWindow() time.Duration {
	return time.Duration(p.cfg.FailureWindowHours * float64(time.Hour))
}

// CoolingUntil returns the end of the derived cooling-down window, or the
// zero time when the profile has no recorded failures.
func (p *Policy) CoolingUntil(u storage.UsageStats) time.Time {
	if u.FailureCount <= 0 || u.LastFailureAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(u.LastFailureAt).Add(TransientCooldown(u.FailureCount))
}

// RecordFailure applies a failure of the given kind to the stats of id and
// returns a copy of the updated stats. The stats entry is created on first
// failure even if the profile no longer exists.
func (p *Policy) RecordFailure(s *storage.Store, id string, kind Kind, now time.Time) storage.UsageStats {
	u := s.EnsureStats(id)
	nowMs := now.UnixMilli()

	if u.LastFailureAt > 0 && now.Sub(time.UnixMilli(u.LastFailureAt)) > p.FailureWindow() {
		u.FailureCount = 0
		u.FailureCounts = nil
	}
	prior := u.FailureCount

	u.FailureCount++
	if u.FailureCounts == nil {
		u.FailureCounts = make(map[string]int)
	}
	u.FailureCounts[string(kind)]++
	u.LastFailureAt = nowMs

	switch {
	case kind == KindBilling:
		provider := s.Profiles[id].Provider
		if provider == "" {
			provider, _ = credential.ParseProfileID(id)
		}
		extendDisable(u, now.Add(p.BillingBackoff(provider, prior)), ReasonBilling)
	case u.FailureCount >= p.cfg.DisableThreshold:
		extendDisable(u, now.Add(p.cfg.DisableWindow), ReasonFailures)
	}
	return u.Clone()
}

// extendDisable moves DisabledUntil forward, never backward. An active
// billing disable keeps its reason.
func extendDisable(u *storage.UsageStats, until time.Time, reason string) {
	ms := until.UnixMilli()
	if ms <= u.DisabledUntil {
		return
	}
	u.DisabledUntil = ms
	u.DisabledReason = reason
}

// RecordSuccess resets the failure state of id and records it as the
// provider's last good profile.
func (p *Policy) RecordSuccess(s *storage.Store, id string, now time.Time) storage.UsageStats {
	u := s.EnsureStats(id)
	nowMs := now.UnixMilli()

	u.FailureCount = 0
	u.FailureCounts = nil
	u.DisabledUntil = 0
	u.DisabledReason = ""
	u.LastSuccessAt = nowMs
	u.LastUsed = nowMs

	if cred, ok := s.Profiles[id]; ok {
		s.LastGood[cred.Provider] = id
	}
	return u.Clone()
}
