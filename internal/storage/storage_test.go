package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/authprofiles/internal/credential"
)

func TestDecode_OpenclawDocument(t *testing.T) {
	doc := `{
	  "version": 1,
	  "profiles": {
	    "anthropic:oauth-a": {"type":"oauth","provider":"anthropic","access":"a","refresh":"r","expires":1700000000000},
	    "anthropic:key-b": {"type":"api_key","provider":"anthropic","key":"sk-b"}
	  },
	  "order": {"anthropic": ["anthropic:oauth-a", "anthropic:key-b"]},
	  "usageStats": {"anthropic:key-b": {"failureCount": 2, "lastFailureAt": 1700000000000, "disabledReason": "billing"}},
	  "lastGood": {"anthropic": "anthropic:key-b"}
	}`

	s, err := Decode([]byte(doc))
	require.NoError(t, err)

	assert.Len(t, s.Profiles, 2)
	assert.Equal(t, []string{"anthropic:oauth-a", "anthropic:key-b"}, s.Order[credential.ProviderAnthropic])
	assert.Equal(t, 2, s.Stats("anthropic:key-b").FailureCount)
	assert.Equal(t, "anthropic:key-b", s.LastGood[credential.ProviderAnthropic])
	assert.Equal(t, credential.TypeOAuth, s.Profiles["anthropic:oauth-a"].Type)
}

func TestDecode_VersionlessAndEmpty(t *testing.T) {
	s, err := Decode([]byte(`{"profiles":{}}`))
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, s.Version)
	assert.NotNil(t, s.Order)
	assert.NotNil(t, s.UsageStats)
	assert.NotNil(t, s.LastGood)
}

func TestDecode_UnknownCredentialType(t *testing.T) {
	_, err := Decode([]byte(`{"profiles":{"x:y":{"type":"cli_relay","provider":"x"}}}`))
	assert.ErrorIs(t, err, credential.ErrUnknownType)
}

func TestEncodeDecode(t *testing.T) {
	s := New()
	s.Upsert("openai:key-1", credential.APIKey("openai", "sk-1"))
	s.EnsureStats("openai:key-1").FailureCount = 3
	s.LastGood[credential.ProviderOpenAI] = "openai:key-1"

	data, err := s.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestUpsert(t *testing.T) {
	s := New()

	assert.True(t, s.Upsert("openai:a", credential.APIKey("openai", "k1")))
	assert.True(t, s.Upsert("openai:b", credential.APIKey("openai", "k2")))
	assert.False(t, s.Upsert("openai:a", credential.APIKey("openai", "k1")), "identical upsert should be a no-op")
	assert.Equal(t, []string{"openai:a", "openai:b"}, s.Order[credential.ProviderOpenAI])

	assert.True(t, s.Upsert("openai:a", credential.APIKey("openai", "k1-rotated")))
	assert.Equal(t, "k1-rotated", s.Profiles["openai:a"].Key)
	assert.Equal(t, []string{"openai:a", "openai:b"}, s.Order[credential.ProviderOpenAI], "update keeps position")
}

func TestUpsert_ProviderChange(t *testing.T) {
	s := New()
	s.Upsert("shared", credential.APIKey("openai", "k"))
	s.LastGood[credential.ProviderOpenAI] = "shared"

	s.Upsert("shared", credential.APIKey("anthropic", "k"))

	assert.NotContains(t, s.Order, credential.ProviderOpenAI)
	assert.NotContains(t, s.LastGood, credential.ProviderOpenAI)
	assert.Equal(t, []string{"shared"}, s.Order[credential.ProviderAnthropic])
}

func TestRemove(t *testing.T) {
	s := New()
	s.Upsert("openai:a", credential.APIKey("openai", "k1"))
	s.Upsert("openai:b", credential.APIKey("openai", "k2"))
	s.EnsureStats("openai:a").FailureCount = 1
	s.LastGood[credential.ProviderOpenAI] = "openai:a"

	assert.True(t, s.Remove("openai:a"))
	assert.NotContains(t, s.Profiles, "openai:a")
	assert.NotContains(t, s.UsageStats, "openai:a")
	assert.NotContains(t, s.LastGood, credential.ProviderOpenAI)
	assert.Equal(t, []string{"openai:b"}, s.Order[credential.ProviderOpenAI])

	assert.False(t, s.Remove("openai:a"), "second remove should report no change")
}

func TestProfilesFor(t *testing.T) {
	s := New()
	s.Profiles["openai:z"] = credential.APIKey("openai", "z")
	s.Profiles["openai:m"] = credential.APIKey("openai", "m")
	s.Profiles["openai:a"] = credential.APIKey("openai", "a")
	s.Profiles["google:x"] = credential.APIKey("google", "x")
	s.Order[credential.ProviderOpenAI] = []string{"openai:m", "openai:gone"}

	var ids []string
	for _, p := range s.ProfilesFor(credential.ProviderOpenAI) {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"openai:m", "openai:a", "openai:z"}, ids)
	assert.Equal(t, []credential.Provider{"google", "openai"}, s.Providers())
}

func TestClone_Independent(t *testing.T) {
	s := New()
	s.Upsert("openai:a", credential.APIKey("openai", "k"))
	s.EnsureStats("openai:a").FailureCounts = map[string]int{"billing": 1}

	c := s.Clone()
	c.Order[credential.ProviderOpenAI][0] = "mutated"
	c.UsageStats["openai:a"].FailureCounts["billing"] = 9

	assert.Equal(t, "openai:a", s.Order[credential.ProviderOpenAI][0])
	assert.Equal(t, 1, s.UsageStats["openai:a"].FailureCounts["billing"])
}
