package oauth

import (
	"errors"
	"fmt"

	"github.com/majorcontext/authprofiles/internal/credential"
)

var (
	// ErrRefreshFailed is matched by every *RefreshFailedError. Callers fall
	// back to interactive auth or the next failover candidate.
	ErrRefreshFailed = errors.New("oauth refresh failed")

	// ErrAuthTimeout is returned when an interactive flow is not completed in
	// time. The store is left unchanged.
	ErrAuthTimeout = errors.New("interactive auth timed out")

	ErrNotOAuth       = errors.New("profile does not hold an oauth credential")
	ErrNoRefreshToken = errors.New("oauth credential has no refresh token")
	ErrNoRefresher    = errors.New("no token refresher configured for provider")
	ErrNoPendingAuth  = errors.New("no authorization in progress")
	ErrStateMismatch  = errors.New("oauth state mismatch (possible CSRF attack)")
	ErrUnknownClient  = errors.New("no oauth client configured for provider")
)

// RefreshFailedError describes a failed refresh of one profile.
type RefreshFailedError struct {
	ProfileID string
	Provider  credential.Provider
	// Revoked is set when the provider rejected the refresh token itself.
	Revoked  bool
	Attempts int
	Err      error
}

func (e *RefreshFailedError) Error() string {
	msg := fmt.Sprintf("oauth refresh failed for %s", e.ProfileID)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	msg += ": " + e.Err.Error()
	if e.Revoked {
		msg += fmt.Sprintf("\n  The refresh token was revoked. Sign in again with: authprofiles login %s", e.Provider)
	}
	return msg
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Err
}

func (e *RefreshFailedError) Is(target error) bool {
	return target == ErrRefreshFailed
}
