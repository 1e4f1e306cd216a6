// Package migrate repairs stores written by older releases.
//
// Every pass is idempotent: running it on a store it already migrated
// reports no change and leaves the store untouched.
package migrate

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/log"
	"github.com/majorcontext/authprofiles/internal/storage"
)

// Rename maps a legacy profile ID to the ID current code expects.
type Rename struct {
	Provider credential.Provider `yaml:"provider"`
	From     string              `yaml:"from"`
	To       string              `yaml:"to"`
}

// ConfigPatcher rewrites references to a profile ID in external
// configuration. It reports whether anything was rewritten.
type ConfigPatcher func(from, to string) (bool, error)

// RepairProfileIDs moves each legacy ID to its new ID, carrying the
// credential, order position, usage stats and last-good entry. A rename
// whose target already exists only drops the legacy profile when both hold
// the same credential; otherwise it is reported and skipped.
func RepairProfileIDs(s *storage.Store, renames []Rename, patch ConfigPatcher) (bool, []string, error) {
	changed := false
	var changeLog []string

	for _, r := range renames {
		if r.From == "" || r.To == "" || r.From == r.To {
			continue
		}
		cred, ok := s.Profiles[r.From]
		if !ok {
			continue
		}
		if r.Provider != "" && cred.Provider != credential.NormalizeProvider(string(r.Provider)) {
			continue
		}

		if existing, taken := s.Profiles[r.To]; taken {
			if !sameSecret(existing, cred) {
				changeLog = append(changeLog, fmt.Sprintf("skipped %s -> %s: target already holds a different credential", r.From, r.To))
				continue
			}
			for provider, id := range s.LastGood {
				if id == r.From {
					s.LastGood[provider] = r.To
				}
			}
			s.Remove(r.From)
			changed = true
			changeLog = append(changeLog, fmt.Sprintf("removed duplicate %s (same credential as %s)", r.From, r.To))
		} else {
			renameProfile(s, r.From, r.To)
			changed = true
			changeLog = append(changeLog, fmt.Sprintf("renamed %s -> %s", r.From, r.To))
		}

		if patch != nil {
			patched, err := patch(r.From, r.To)
			if err != nil {
				return changed, changeLog, fmt.Errorf("patching config references to %s: %w", r.From, err)
			}
			if patched {
				changeLog = append(changeLog, fmt.Sprintf("updated config references %s -> %s", r.From, r.To))
			}
		}
	}
	return changed, changeLog, nil
}

func renameProfile(s *storage.Store, from, to string) {
	s.Profiles[to] = s.Profiles[from]
	delete(s.Profiles, from)

	for provider, ids := range s.Order {
		for i, id := range ids {
			if id == from {
				ids[i] = to
			}
		}
		s.Order[provider] = dedupe(ids)
	}
	if u, ok := s.UsageStats[from]; ok {
		if _, exists := s.UsageStats[to]; !exists {
			s.UsageStats[to] = u
		}
		delete(s.UsageStats, from)
	}
	for provider, id := range s.LastGood {
		if id == from {
			s.LastGood[provider] = to
		}
	}
}

func sameSecret(a, b credential.Credential) bool {
	return a.Type == b.Type && a.Provider == b.Provider &&
		a.Secret() == b.Secret() && a.SecretRef() == b.SecretRef() && a.Refresh == b.Refresh
}

// DetectRenames proposes renames for configuration references that no
// longer resolve. A missing ID is mapped when its provider has exactly one
// oauth profile, which is the case after a provider changed its canonical
// profile key.
func DetectRenames(s *storage.Store, referenced []string) []Rename {
	var out []Rename
	seen := make(map[string]bool)
	for _, ref := range referenced {
		if _, ok := s.Profiles[ref]; ok || seen[ref] {
			continue
		}
		seen[ref] = true

		provider, _ := credential.ParseProfileID(ref)
		var oauthIDs []string
		for _, p := range s.ProfilesFor(provider) {
			if p.Credential.Type == credential.TypeOAuth {
				oauthIDs = append(oauthIDs, p.ID)
			}
		}
		if len(oauthIDs) == 1 {
			out = append(out, Rename{Provider: provider, From: ref, To: oauthIDs[0]})
		}
	}
	return out
}

// PatchOnly returns the renames whose source is not a stored profile, which
// only need their configuration references rewritten.
func PatchOnly(s *storage.Store, renames []Rename) []Rename {
	var out []Rename
	for _, r := range renames {
		if _, ok := s.Profiles[r.From]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// Deprecated describes profiles that are no longer supported.
type Deprecated struct {
	// ProfileIDs are removed outright.
	ProfileIDs []string `yaml:"profile_ids"`
	// AuthModes are oauth metadata auth_mode values that are retired.
	AuthModes []string `yaml:"auth_modes"`
}

// DefaultDeprecated lists the retired CLI-relay profiles.
func DefaultDeprecated() Deprecated {
	return Deprecated{
		ProfileIDs: []string{"anthropic:claude-cli", "openai-codex:codex-cli"},
		AuthModes:  []string{"cli-relay"},
	}
}

// PruneDeprecated removes deprecated profiles and every order, usage and
// last-good entry pointing at a profile that no longer exists.
func PruneDeprecated(s *storage.Store, dep Deprecated) (bool, []string) {
	changed := false
	var changeLog []string

	ids := make([]string, 0, len(s.Profiles))
	for id := range s.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cred := s.Profiles[id]
		reason := ""
		switch {
		case slices.Contains(dep.ProfileIDs, id):
			reason = "deprecated profile"
		case cred.Metadata != nil && slices.Contains(dep.AuthModes, cred.Metadata[credential.MetaKeyAuthMode]):
			reason = fmt.Sprintf("retired auth mode %q", cred.Metadata[credential.MetaKeyAuthMode])
		default:
			continue
		}
		s.Remove(id)
		changed = true
		changeLog = append(changeLog, fmt.Sprintf("removed %s (%s)", id, reason))
	}

	providers := make([]credential.Provider, 0, len(s.Order))
	for p := range s.Order {
		providers = append(providers, p)
	}
	slices.Sort(providers)
	for _, p := range providers {
		ids := s.Order[p]
		kept := slices.DeleteFunc(slices.Clone(ids), func(id string) bool {
			_, ok := s.Profiles[id]
			return !ok
		})
		kept = dedupe(kept)
		if len(kept) == len(ids) {
			continue
		}
		for _, id := range ids {
			if _, ok := s.Profiles[id]; !ok {
				changeLog = append(changeLog, fmt.Sprintf("removed dangling %s from %s order", id, p))
			}
		}
		if len(kept) == 0 {
			delete(s.Order, p)
		} else {
			s.Order[p] = kept
		}
		changed = true
	}

	for _, id := range sortedKeys(s.UsageStats) {
		if _, ok := s.Profiles[id]; !ok {
			delete(s.UsageStats, id)
			changed = true
			changeLog = append(changeLog, fmt.Sprintf("removed usage stats of missing profile %s", id))
		}
	}
	for _, p := range sortedKeys(s.LastGood) {
		if _, ok := s.Profiles[s.LastGood[p]]; !ok {
			changeLog = append(changeLog, fmt.Sprintf("cleared %s last-good %s", p, s.LastGood[p]))
			delete(s.LastGood, p)
			changed = true
		}
	}
	return changed, changeLog
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Options configures Run.
type Options struct {
	Renames    []Rename
	Referenced []string
	Deprecated Deprecated
	Patch      ConfigPatcher
	// DryRun computes the change log without writing the store or calling
	// Patch.
	DryRun bool
}

// Result is the combined outcome of Run.
type Result struct {
	// Changed reports a store change.
	Changed bool
	// ConfigPatched reports that Patch rewrote at least one reference.
	ConfigPatched bool
	ChangeLog     []string
}

// Run applies both passes under one store lock. Renames detected from
// Referenced are added to the explicit ones; renames whose source is not a
// stored profile only rewrite configuration references.
func Run(ctx context.Context, file *storage.File, opts Options) (*Result, error) {
	var res *Result
	err := file.WithLock(ctx, func(s *storage.Store) (bool, error) {
		res = &Result{}
		renames := append(slices.Clone(opts.Renames), DetectRenames(s, opts.Referenced)...)
		configOnly := PatchOnly(s, renames)

		var patch ConfigPatcher
		if !opts.DryRun && opts.Patch != nil {
			patch = func(from, to string) (bool, error) {
				patched, err := opts.Patch(from, to)
				if patched {
					res.ConfigPatched = true
				}
				return patched, err
			}
		}

		repaired, changeLog, err := RepairProfileIDs(s, renames, patch)
		if err != nil {
			return false, err
		}
		for _, r := range configOnly {
			if patch == nil {
				if opts.DryRun {
					changeLog = append(changeLog, fmt.Sprintf("would update config references %s -> %s", r.From, r.To))
				}
				continue
			}
			patched, err := patch(r.From, r.To)
			if err != nil {
				return false, fmt.Errorf("patching config references to %s: %w", r.From, err)
			}
			if patched {
				changeLog = append(changeLog, fmt.Sprintf("updated config references %s -> %s", r.From, r.To))
			}
		}
		pruned, pruneLog := PruneDeprecated(s, opts.Deprecated)

		res.Changed = repaired || pruned
		res.ChangeLog = append(changeLog, pruneLog...)
		if opts.DryRun {
			return false, nil
		}
		return res.Changed, nil
	})
	if err != nil {
		return nil, err
	}
	for _, line := range res.ChangeLog {
		log.Info("migration", "change", line, "dry_run", opts.DryRun)
	}
	return res, nil
}
