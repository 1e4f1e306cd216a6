package secrets

import (
	"context"
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeychainResolver reads secrets from the system keychain (macOS Keychain,
// Secret Service on Linux, Windows Credential Manager):
// keychain://service/account.
type KeychainResolver struct{}

// Scheme returns "keychain".
func (r *KeychainResolver) Scheme() string {
	return "keychain"
}

// Resolve fetches the password stored for service and account.
func (r *KeychainResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	service, account, ok := strings.Cut(strings.TrimPrefix(reference, "keychain://"), "/")
	if !ok || service == "" || account == "" {
		return "", &InvalidReferenceError{Reference: reference, Reason: "expected keychain://service/account"}
	}

	value, err := keyring.Get(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", &NotFoundError{Reference: reference, Backend: "keychain"}
	}
	if err != nil {
		return "", &BackendError{
			Backend:   "keychain",
			Reference: reference,
			Reason:    err.Error(),
			Fix:       "Check that a keychain or Secret Service provider is running and unlocked.",
			Err:       err,
		}
	}
	return value, nil
}
