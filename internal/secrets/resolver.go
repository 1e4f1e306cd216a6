// Package secrets resolves the keyRef and tokenRef references stored in
// auth profiles. Resolved values live only in memory and are never written
// back to the store.
//
// A reference is a URI whose scheme selects the backend:
//
//	env://OPENAI_API_KEY
//	keychain://service/account
//	op://Vault/Item/field
//	awssm://us-east-1/prod/openai?key=api_key&role_arn=arn:aws:iam::123456789012:role/reader
package secrets

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Resolver resolves a secret reference to its plaintext value.
type Resolver interface {
	// Scheme returns the URI scheme this resolver handles (e.g., "env", "op").
	Scheme() string

	// Resolve fetches the secret value for the given reference.
	// The reference is the full URI (e.g., "op://Dev/OpenAI/api-key").
	Resolve(ctx context.Context, reference string) (string, error)
}

// Registry dispatches references to resolvers by scheme.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry returns a registry holding rs.
func NewRegistry(rs ...Resolver) *Registry {
	r := &Registry{resolvers: make(map[string]Resolver)}
	for _, res := range rs {
		r.Register(res)
	}
	return r
}

// Default returns a registry with every built-in backend.
func Default() *Registry {
	return NewRegistry(
		&EnvResolver{},
		&KeychainResolver{},
		&OnePasswordResolver{},
		&AWSSecretsResolver{},
	)
}

// Register adds or replaces the resolver for its scheme.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Scheme()] = res
}

// Schemes returns the registered schemes, sorted.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.resolvers))
	for s := range r.resolvers {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Resolve dispatches to the resolver for the reference's scheme.
func (r *Registry) Resolve(ctx context.Context, reference string) (string, error) {
	scheme := parseScheme(reference)
	if scheme == "" {
		return "", &InvalidReferenceError{Reference: reference, Reason: "missing scheme"}
	}

	r.mu.RLock()
	res, ok := r.resolvers[scheme]
	r.mu.RUnlock()

	if !ok {
		return "", &UnsupportedSchemeError{Scheme: scheme, Supported: r.Schemes()}
	}

	value, err := res.Resolve(ctx, reference)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", &NotFoundError{Reference: reference, Backend: scheme}
	}
	return value, nil
}

// IsReference reports whether s looks like a secret reference rather than
// an inline secret.
func IsReference(s string) bool {
	return parseScheme(s) != ""
}

// parseScheme extracts the scheme from a URI (e.g., "op" from "op://vault/item").
func parseScheme(ref string) string {
	idx := strings.Index(ref, "://")
	if idx < 1 {
		return ""
	}
	scheme := ref[:idx]
	for _, c := range scheme {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return ""
		}
	}
	return scheme
}
