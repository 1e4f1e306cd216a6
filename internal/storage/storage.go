// Package storage persists the auth profile registry.
//
// The registry is a single JSON document holding every profile, the
// per-provider preference order, per-profile usage statistics and the
// last-known-good profile per provider. It is shared by independent
// processes, so every mutation goes through File.WithLock, which serializes
// load-modify-write cycles with an advisory lock and replaces the file
// atomically.
package storage

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"

	"github.com/majorcontext/authprofiles/internal/credential"
)

// CurrentVersion is the store format version written by this package.
const CurrentVersion = 1

// UsageStats tracks failures and cooldowns for one profile. Timestamps are
// epoch milliseconds; zero means absent.
type UsageStats struct {
	LastUsed       int64          `json:"lastUsed,omitempty"`
	DisabledUntil  int64          `json:"disabledUntil,omitempty"`
	DisabledReason string         `json:"disabledReason,omitempty"`
	FailureCount   int            `json:"failureCount,omitempty"`
	FailureCounts  map[string]int `json:"failureCounts,omitempty"`
	LastFailureAt  int64          `json:"lastFailureAt,omitempty"`
	LastSuccessAt  int64          `json:"lastSuccessAt,omitempty"`
}

// Clone returns a deep copy.
func (u UsageStats) Clone() UsageStats {
	out := u
	if u.FailureCounts != nil {
		out.FailureCounts = maps.Clone(u.FailureCounts)
	}
	return out
}

// Profile is one named credential.
type Profile struct {
	ID         string
	Credential credential.Credential
}

// Store is the persisted aggregate.
type Store struct {
	Version    int                              `json:"version"`
	Profiles   map[string]credential.Credential `json:"profiles"`
	Order      map[credential.Provider][]string `json:"order,omitempty"`
	UsageStats map[string]*UsageStats           `json:"usageStats,omitempty"`
	LastGood   map[credential.Provider]string   `json:"lastGood,omitempty"`
}

// New returns an empty store.
func New() *Store {
	s := &Store{Version: CurrentVersion}
	s.init()
	return s
}

func (s *Store) init() {
	if s.Profiles == nil {
		s.Profiles = make(map[string]credential.Credential)
	}
	if s.Order == nil {
		s.Order = make(map[credential.Provider][]string)
	}
	if s.UsageStats == nil {
		s.UsageStats = make(map[string]*UsageStats)
	}
	if s.LastGood == nil {
		s.LastGood = make(map[credential.Provider]string)
	}
}

// Decode parses a store document. Credentials with unknown type tags make the
// whole document invalid.
func Decode(data []byte) (*Store, error) {
	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Version == 0 {
		s.Version = CurrentVersion
	}
	s.init()
	for id, stats := range s.UsageStats {
		if stats == nil {
			delete(s.UsageStats, id)
		}
	}
	return &s, nil
}

// Encode serializes the store for writing.
func (s *Store) Encode() ([]byte, error) {
	s.Version = CurrentVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy that can be mutated without affecting s.
func (s *Store) Clone() *Store {
	out := &Store{
		Version:    s.Version,
		Profiles:   make(map[string]credential.Credential, len(s.Profiles)),
		Order:      make(map[credential.Provider][]string, len(s.Order)),
		UsageStats: make(map[string]*UsageStats, len(s.UsageStats)),
		LastGood:   maps.Clone(s.LastGood),
	}
	for id, c := range s.Profiles {
		out.Profiles[id] = c.Clone()
	}
	for p, ids := range s.Order {
		out.Order[p] = slices.Clone(ids)
	}
	for id, u := range s.UsageStats {
		c := u.Clone()
		out.UsageStats[id] = &c
	}
	if out.LastGood == nil {
		out.LastGood = make(map[credential.Provider]string)
	}
	return out
}

// Profile returns the profile with the given ID.
func (s *Store) Profile(id string) (Profile, bool) {
	c, ok := s.Profiles[id]
	if !ok {
		return Profile{}, false
	}
	return Profile{ID: id, Credential: c}, true
}

// Stats returns a copy of the usage stats for id, or the zero value.
func (s *Store) Stats(id string) UsageStats {
	if u, ok := s.UsageStats[id]; ok && u != nil {
		return u.Clone()
	}
	return UsageStats{}
}

// EnsureStats returns the mutable usage stats for id, creating the entry on
// first use.
func (s *Store) EnsureStats(id string) *UsageStats {
	s.init()
	u, ok := s.UsageStats[id]
	if !ok || u == nil {
		u = &UsageStats{}
		s.UsageStats[id] = u
	}
	return u
}

// Upsert stores cred under id. New IDs are appended to the end of their
// provider's order; an ID whose provider changed moves to the new provider's
// order. It reports whether the store changed.
func (s *Store) Upsert(id string, cred credential.Credential) bool {
	s.init()
	prev, existed := s.Profiles[id]
	if existed && credentialEqual(prev, cred) && slices.Contains(s.Order[cred.Provider], id) {
		return false
	}
	if existed && prev.Provider != cred.Provider {
		s.removeFromOrder(prev.Provider, id)
		if s.LastGood[prev.Provider] == id {
			delete(s.LastGood, prev.Provider)
		}
	}
	s.Profiles[id] = cred.Clone()
	if !slices.Contains(s.Order[cred.Provider], id) {
		s.Order[cred.Provider] = append(s.Order[cred.Provider], id)
	}
	return true
}

// Remove deletes a profile together with its order, usage and last-good
// entries. It reports whether anything was removed.
func (s *Store) Remove(id string) bool {
	s.init()
	changed := false
	if _, ok := s.Profiles[id]; ok {
		delete(s.Profiles, id)
		changed = true
	}
	for provider := range s.Order {
		if s.removeFromOrder(provider, id) {
			changed = true
		}
	}
	if _, ok := s.UsageStats[id]; ok {
		delete(s.UsageStats, id)
		changed = true
	}
	for provider, good := range s.LastGood {
		if good == id {
			delete(s.LastGood, provider)
			changed = true
		}
	}
	return changed
}

func (s *Store) removeFromOrder(provider credential.Provider, id string) bool {
	ids := s.Order[provider]
	idx := slices.Index(ids, id)
	if idx < 0 {
		return false
	}
	ids = slices.Delete(ids, idx, idx+1)
	if len(ids) == 0 {
		delete(s.Order, provider)
	} else {
		s.Order[provider] = ids
	}
	return true
}

// ProfilesFor returns every profile of a provider: first in Order, then the
// remaining ones sorted by ID.
func (s *Store) ProfilesFor(provider credential.Provider) []Profile {
	seen := make(map[string]bool)
	var out []Profile
	for _, id := range s.Order[provider] {
		if c, ok := s.Profiles[id]; ok && c.Provider == provider && !seen[id] {
			seen[id] = true
			out = append(out, Profile{ID: id, Credential: c})
		}
	}
	var rest []string
	for id, c := range s.Profiles {
		if c.Provider == provider && !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, Profile{ID: id, Credential: s.Profiles[id]})
	}
	return out
}

// Providers returns every provider that has a profile or an order entry,
// sorted.
func (s *Store) Providers() []credential.Provider {
	set := make(map[credential.Provider]bool)
	for _, c := range s.Profiles {
		set[c.Provider] = true
	}
	for p := range s.Order {
		set[p] = true
	}
	out := slices.Collect(maps.Keys(set))
	slices.Sort(out)
	return out
}

func credentialEqual(a, b credential.Credential) bool {
	return a.Type == b.Type &&
		a.Provider == b.Provider &&
		a.Key == b.Key && a.KeyRef == b.KeyRef &&
		a.Token == b.Token && a.TokenRef == b.TokenRef &&
		a.Access == b.Access && a.Refresh == b.Refresh &&
		a.Expires == b.Expires &&
		a.Email == b.Email &&
		maps.Equal(a.Metadata, b.Metadata)
}
