package credential

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialJSON_OnlyTypeFields(t *testing.T) {
	c := Credential{
		Type:     TypeAPIKey,
		Provider: ProviderOpenAI,
		Key:      "sk-test",
		Access:   "should-not-be-written",
	}

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"api_key","provider":"openai","key":"sk-test"}`, string(data))
}

func TestCredentialJSON_Decode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Credential
	}{
		{
			name: "api key",
			in:   `{"type":"api_key","provider":"OpenAI","key":"sk-1"}`,
			want: Credential{Type: TypeAPIKey, Provider: ProviderOpenAI, Key: "sk-1"},
		},
		{
			name: "token with expiry",
			in:   `{"type":"token","provider":"anthropic","token":"tok","expires":1700000000000}`,
			want: Credential{Type: TypeToken, Provider: ProviderAnthropic, Token: "tok", Expires: 1700000000000},
		},
		{
			name: "oauth",
			in:   `{"type":"oauth","provider":"claude","access":"a","refresh":"r","expires":42,"email":"me@example.com"}`,
			want: Credential{Type: TypeOAuth, Provider: ProviderAnthropic, Access: "a", Refresh: "r", Expires: 42, Email: "me@example.com"},
		},
		{
			name: "foreign fields dropped",
			in:   `{"type":"token","provider":"openai","token":"t","access":"ignored"}`,
			want: Credential{Type: TypeToken, Provider: ProviderOpenAI, Token: "t"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Credential
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialJSON_UnknownType(t *testing.T) {
	var c Credential
	err := json.Unmarshal([]byte(`{"type":"cli_relay","provider":"anthropic"}`), &c)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Unmarshal error = %v, want ErrUnknownType", err)
	}

	_, err = json.Marshal(Credential{Type: "bogus", Provider: "x"})
	if err == nil || !strings.Contains(err.Error(), "unknown credential type") {
		t.Errorf("Marshal error = %v, want unknown credential type", err)
	}
}

func TestConstructors(t *testing.T) {
	exp := time.UnixMilli(1700000000000)

	tok := Token("Anthropic", "tok", exp)
	if tok.Provider != ProviderAnthropic || tok.Expires != exp.UnixMilli() {
		t.Errorf("Token() = %+v", tok)
	}
	if got, ok := tok.ExpiresAt(); !ok || !got.Equal(exp) {
		t.Errorf("ExpiresAt() = %v, %v", got, ok)
	}

	noExp := Token("openai", "tok", time.Time{})
	if _, ok := noExp.ExpiresAt(); ok {
		t.Error("ExpiresAt() should report no expiry for zero time")
	}

	o := OAuth("google", "access", "refresh", exp)
	if !o.CanRefresh() {
		t.Error("oauth credential with refresh token should be refreshable")
	}
	if o.Secret() != "access" {
		t.Errorf("Secret() = %q, want access", o.Secret())
	}
	if APIKey("openai", "k").CanRefresh() {
		t.Error("api key should not be refreshable")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cred    Credential
		wantErr error
	}{
		{"api key", APIKey("openai", "sk"), nil},
		{"api key ref", Credential{Type: TypeAPIKey, Provider: "openai", KeyRef: "env://OPENAI_API_KEY"}, nil},
		{"api key empty", Credential{Type: TypeAPIKey, Provider: "openai"}, ErrInvalid},
		{"token empty", Credential{Type: TypeToken, Provider: "openai"}, ErrInvalid},
		{"oauth refresh only", Credential{Type: TypeOAuth, Provider: "google", Refresh: "r"}, nil},
		{"oauth empty", Credential{Type: TypeOAuth, Provider: "google"}, ErrInvalid},
		{"missing provider", Credential{Type: TypeAPIKey, Key: "k"}, ErrInvalid},
		{"unnormalized provider", Credential{Type: TypeAPIKey, Provider: "OpenAI", Key: "k"}, ErrInvalid},
		{"unknown type", Credential{Type: "magic", Provider: "openai"}, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cred.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClone_Metadata(t *testing.T) {
	c := OAuth("google", "a", "r", time.Time{})
	c.Metadata = map[string]string{"project": "p1"}

	clone := c.Clone()
	clone.Metadata["project"] = "p2"

	if c.Metadata["project"] != "p1" {
		t.Error("Clone() shares metadata map with original")
	}
}
