package config

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/oauth2"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/secrets"
)

// OAuthConfig holds OAuth client registrations per provider.
type OAuthConfig struct {
	// Mode forces "local" or "remote" login. Empty detects it from the
	// environment.
	Mode      string                 `yaml:"mode"`
	Providers map[string]OAuthClient `yaml:"providers"`
}

// OAuthClient is one provider's client registration. ClientSecret may be a
// secret reference such as env://GOOGLE_CLIENT_SECRET.
type OAuthClient struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// wellKnownEndpoints fill in endpoints for providers whose client only
// configures an ID.
var wellKnownEndpoints = map[credential.Provider]oauth2.Endpoint{
	credential.ProviderGoogle: {
		AuthURL:  "https://accounts.google.com/o/oauth2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
	},
}

// OAuthClients builds an oauth2.Config per configured provider, resolving
// secret references in client secrets through reg.
func (c *Config) OAuthClients(ctx context.Context, reg *secrets.Registry) (map[credential.Provider]*oauth2.Config, error) {
	names := make([]string, 0, len(c.OAuth.Providers))
	for name := range c.OAuth.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[credential.Provider]*oauth2.Config, len(names))
	for _, name := range names {
		client := c.OAuth.Providers[name]
		provider := credential.NormalizeProvider(name)

		if client.ClientID == "" {
			return nil, fmt.Errorf("oauth.providers.%s: client_id is required", name)
		}
		endpoint := oauth2.Endpoint{AuthURL: client.AuthURL, TokenURL: client.TokenURL}
		if known, ok := wellKnownEndpoints[provider]; ok {
			if endpoint.AuthURL == "" {
				endpoint.AuthURL = known.AuthURL
			}
			if endpoint.TokenURL == "" {
				endpoint.TokenURL = known.TokenURL
			}
		}
		if endpoint.TokenURL == "" {
			return nil, fmt.Errorf("oauth.providers.%s: token_url is required", name)
		}

		secret := client.ClientSecret
		if secrets.IsReference(secret) {
			if reg == nil {
				return nil, fmt.Errorf("oauth.providers.%s: client_secret is a reference but no secret backends are available", name)
			}
			resolved, err := reg.Resolve(ctx, secret)
			if err != nil {
				return nil, fmt.Errorf("oauth.providers.%s: resolving client_secret: %w", name, err)
			}
			secret = resolved
		}

		out[provider] = &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: secret,
			Endpoint:     endpoint,
			RedirectURL:  client.RedirectURL,
			Scopes:       client.Scopes,
		}
	}
	return out, nil
}
