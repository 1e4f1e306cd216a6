package credential

import (
	"fmt"
	"strings"
)

// Provider is a normalized, lower-case provider identifier such as
// "anthropic" or "openai".
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)

// providerAliases maps alternative spellings to their canonical provider ID.
var providerAliases = map[string]Provider{
	"claude":       ProviderAnthropic,
	"z.ai":         "zai",
	"z-ai":         "zai",
	"opencode-zen": "opencode",
	"gemini":       ProviderGoogle,
	"bytedance":    "volcengine",
	"doubao":       "volcengine",
}

// NormalizeProvider lower-cases and trims a provider name and resolves known
// aliases to the canonical ID.
func NormalizeProvider(name string) Provider {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := providerAliases[n]; ok {
		return canonical
	}
	return Provider(n)
}

// ProfileID builds the conventional "<provider>:<label>" profile ID.
func ProfileID(provider Provider, label string) string {
	return string(provider) + ":" + strings.TrimSpace(label)
}

// ParseProfileID splits a profile ID into its provider and label. IDs without
// a label yield the whole ID as provider.
func ParseProfileID(id string) (Provider, string) {
	if idx := strings.Index(id, ":"); idx != -1 {
		return NormalizeProvider(id[:idx]), id[idx+1:]
	}
	return NormalizeProvider(id), ""
}

// ValidateProfileID checks that a profile ID is non-empty and carries no
// surrounding whitespace.
func ValidateProfileID(id string) error {
	if id == "" {
		return fmt.Errorf("profile ID cannot be empty")
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("profile ID %q has leading or trailing whitespace", id)
	}
	if strings.ContainsAny(id, "\n\r\t") {
		return fmt.Errorf("profile ID %q contains control characters", id)
	}
	return nil
}

// Mask masks a secret for display, showing only the first and last four
// characters.
func Mask(secret string) string {
	if len(secret) <= 12 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
