package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/majorcontext/authprofiles/internal/credential"
)

// InteractiveAuth is the contract between the token lifecycle and whatever
// collects the user's authorization. BeginAuth returns the URL the user must
// open; CompleteAuth accepts either the full redirect URL or the bare
// authorization code and returns the new credential.
type InteractiveAuth interface {
	BeginAuth(ctx context.Context, provider credential.Provider) (string, error)
	CompleteAuth(ctx context.Context, artifact string) (credential.Credential, error)
}

// RedirectOverrider is implemented by InteractiveAuth values that can send
// the user back to a loopback callback instead of their configured redirect.
type RedirectOverrider interface {
	OverrideRedirectURL(redirectURL string)
}

// Flow is an authorization code flow with PKCE over golang.org/x/oauth2.
// One authorization can be in progress at a time.
type Flow struct {
	clients    map[credential.Provider]*oauth2.Config
	httpClient *http.Client

	mu       sync.Mutex
	redirect string
	pending  *pendingAuth
}

type pendingAuth struct {
	provider credential.Provider
	config   oauth2.Config
	state    string
	verifier string
}

// NewFlow returns a flow for the given per-provider clients.
func NewFlow(clients map[credential.Provider]*oauth2.Config) *Flow {
	normalized := make(map[credential.Provider]*oauth2.Config, len(clients))
	for p, c := range clients {
		normalized[credential.NormalizeProvider(string(p))] = c
	}
	return &Flow{clients: normalized}
}

// SetHTTPClient overrides the client used for the token exchange.
func (f *Flow) SetHTTPClient(c *http.Client) {
	f.httpClient = c
}

// OverrideRedirectURL makes the next BeginAuth use redirectURL.
func (f *Flow) OverrideRedirectURL(redirectURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirect = redirectURL
}

// BeginAuth starts an authorization for provider and returns the URL to open.
func (f *Flow) BeginAuth(ctx context.Context, provider credential.Provider) (string, error) {
	provider = credential.NormalizeProvider(string(provider))
	client, ok := f.clients[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownClient, provider)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cfg := *client
	if f.redirect != "" {
		cfg.RedirectURL = f.redirect
		f.redirect = ""
	}
	p := &pendingAuth{
		provider: provider,
		config:   cfg,
		state:    uuid.NewString(),
		verifier: oauth2.GenerateVerifier(),
	}
	f.pending = p

	return cfg.AuthCodeURL(p.state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(p.verifier)), nil
}

// CompleteAuth exchanges the authorization artifact for a credential. The
// pending authorization is consumed whether or not the exchange succeeds.
func (f *Flow) CompleteAuth(ctx context.Context, artifact string) (credential.Credential, error) {
	f.mu.Lock()
	p := f.pending
	f.pending = nil
	f.mu.Unlock()
	if p == nil {
		return credential.Credential{}, ErrNoPendingAuth
	}

	code, state, err := ParseArtifact(artifact)
	if err != nil {
		return credential.Credential{}, err
	}
	if state != "" && state != p.state {
		return credential.Credential{}, ErrStateMismatch
	}

	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}
	tok, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	cred := credential.OAuth(string(p.provider), tok.AccessToken, tok.RefreshToken, tok.Expiry)
	if email, ok := tok.Extra("email").(string); ok {
		cred.Email = email
	}
	return cred, nil
}

// ParseArtifact extracts the authorization code and state from a pasted
// redirect URL, a bare query string, a "code#state" pair or a bare code.
func ParseArtifact(artifact string) (code, state string, err error) {
	artifact = strings.TrimSpace(artifact)
	if artifact == "" {
		return "", "", fmt.Errorf("empty authorization response")
	}

	query := ""
	switch {
	case strings.Contains(artifact, "://"):
		u, err := url.Parse(artifact)
		if err != nil {
			return "", "", fmt.Errorf("parsing redirect URL: %w", err)
		}
		query = u.RawQuery
	case strings.HasPrefix(artifact, "?"):
		query = artifact[1:]
	case strings.Contains(artifact, "code="):
		query = artifact
	}

	if query == "" {
		code, state, _ = strings.Cut(artifact, "#")
		return code, state, nil
	}

	q, err := url.ParseQuery(query)
	if err != nil {
		return "", "", fmt.Errorf("parsing redirect query: %w", err)
	}
	if e := q.Get("error"); e != "" {
		if desc := q.Get("error_description"); desc != "" {
			e += ": " + desc
		}
		return "", "", fmt.Errorf("authorization denied: %s", e)
	}
	code = q.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("no authorization code in redirect")
	}
	return code, q.Get("state"), nil
}
