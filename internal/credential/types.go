// Package credential defines the credential variants held by auth profiles.
//
// A Credential is a closed union over three types: api_key, token and oauth.
// Only the fields belonging to the credential's Type are meaningful; the JSON
// codec rejects unknown types instead of passing them through.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// Type identifies the credential variant.
type Type string

const (
	TypeAPIKey Type = "api_key"
	TypeToken  Type = "token"
	TypeOAuth  Type = "oauth"
)

// MetaKeyAuthMode is the metadata key recording how an oauth credential was
// obtained. Migration uses it to detect retired auth modes.
const MetaKeyAuthMode = "auth_mode"

var (
	// ErrUnknownType is returned when a credential carries a type tag this
	// package does not understand.
	ErrUnknownType = errors.New("unknown credential type")
	// ErrInvalid is returned by Validate for structurally incomplete credentials.
	ErrInvalid = errors.New("invalid credential")
)

// Credential is one stored secret for one provider.
type Credential struct {
	Type     Type
	Provider Provider

	// api_key
	Key    string
	KeyRef string

	// token
	Token    string
	TokenRef string

	// oauth
	Access  string
	Refresh string

	// Expires is the expiry in epoch milliseconds. Zero means absent.
	Expires int64

	Email    string
	Metadata map[string]string
}

// APIKey returns an api_key credential.
func APIKey(provider, key string) Credential {
	return Credential{Type: TypeAPIKey, Provider: NormalizeProvider(provider), Key: key}
}

// Token returns a static token credential. A zero expires means the token
// carries no expiry information.
func Token(provider, token string, expires time.Time) Credential {
	return Credential{Type: TypeToken, Provider: NormalizeProvider(provider), Token: token, Expires: epochMillis(expires)}
}

// OAuth returns an oauth credential.
func OAuth(provider, access, refresh string, expires time.Time) Credential {
	return Credential{
		Type:     TypeOAuth,
		Provider: NormalizeProvider(provider),
		Access:   access,
		Refresh:  refresh,
		Expires:  epochMillis(expires),
	}
}

func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ExpiresAt returns the expiry time and whether one is recorded.
func (c Credential) ExpiresAt() (time.Time, bool) {
	if c.Expires <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(c.Expires), true
}

// Secret returns the inline secret for the credential's type.
func (c Credential) Secret() string {
	switch c.Type {
	case TypeAPIKey:
		return c.Key
	case TypeToken:
		return c.Token
	case TypeOAuth:
		return c.Access
	default:
		return ""
	}
}

// SecretRef returns the external secret reference, if any. OAuth access
// tokens are always inline.
func (c Credential) SecretRef() string {
	switch c.Type {
	case TypeAPIKey:
		return c.KeyRef
	case TypeToken:
		return c.TokenRef
	default:
		return ""
	}
}

// CanRefresh reports whether the credential can be renewed without user
// interaction.
func (c Credential) CanRefresh() bool {
	return c.Type == TypeOAuth && c.Refresh != ""
}

// Clone returns a deep copy.
func (c Credential) Clone() Credential {
	out := c
	if c.Metadata != nil {
		out.Metadata = maps.Clone(c.Metadata)
	}
	return out
}

// Validate checks that the fields required by the credential's type are set.
func (c Credential) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalid)
	}
	if c.Provider != NormalizeProvider(string(c.Provider)) {
		return fmt.Errorf("%w: provider %q is not normalized", ErrInvalid, c.Provider)
	}
	switch c.Type {
	case TypeAPIKey:
		if c.Key == "" && c.KeyRef == "" {
			return fmt.Errorf("%w: api_key requires key or keyRef", ErrInvalid)
		}
	case TypeToken:
		if c.Token == "" && c.TokenRef == "" {
			return fmt.Errorf("%w: token requires token or tokenRef", ErrInvalid)
		}
	case TypeOAuth:
		if c.Access == "" && c.Refresh == "" {
			return fmt.Errorf("%w: oauth requires an access or refresh token", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
	}
	return nil
}

// wireCredential is the on-disk shape of a credential.
type wireCredential struct {
	Type     Type              `json:"type"`
	Provider string            `json:"provider"`
	Key      string            `json:"key,omitempty"`
	KeyRef   string            `json:"keyRef,omitempty"`
	Token    string            `json:"token,omitempty"`
	TokenRef string            `json:"tokenRef,omitempty"`
	Access   string            `json:"access,omitempty"`
	Refresh  string            `json:"refresh,omitempty"`
	Expires  int64             `json:"expires,omitempty"`
	Email    string            `json:"email,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON writes only the fields that belong to the credential's type.
func (c Credential) MarshalJSON() ([]byte, error) {
	w := wireCredential{
		Type:     c.Type,
		Provider: string(c.Provider),
		Expires:  c.Expires,
		Email:    c.Email,
		Metadata: c.Metadata,
	}
	switch c.Type {
	case TypeAPIKey:
		w.Key, w.KeyRef = c.Key, c.KeyRef
	case TypeToken:
		w.Token, w.TokenRef = c.Token, c.TokenRef
	case TypeOAuth:
		w.Access, w.Refresh = c.Access, c.Refresh
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a credential, normalizing its provider and rejecting
// unknown type tags.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var w wireCredential
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Credential{
		Type:     w.Type,
		Provider: NormalizeProvider(w.Provider),
		Expires:  w.Expires,
		Email:    w.Email,
		Metadata: w.Metadata,
	}
	switch w.Type {
	case TypeAPIKey:
		out.Key, out.KeyRef = w.Key, w.KeyRef
	case TypeToken:
		out.Token, out.TokenRef = w.Token, w.TokenRef
	case TypeOAuth:
		out.Access, out.Refresh = w.Access, w.Refresh
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	*c = out
	return nil
}
