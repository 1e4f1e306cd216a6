package failover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/health"
)

// ErrNoUsableProfile is matched by every *NoUsableProfileError.
var ErrNoUsableProfile = errors.New("no usable auth profile")

// Candidate records why a profile was passed over.
type Candidate struct {
	ProfileID string
	Health    health.Result
	// RefreshErr is set when a refresh was attempted and failed.
	RefreshErr error
}

// Describe renders the candidate's state for people.
func (c Candidate) Describe() string {
	desc := health.Describe(c.Health)
	if c.RefreshErr != nil {
		desc += "; refresh failed: " + c.RefreshErr.Error()
	}
	return desc
}

// NoUsableProfileError reports that no profile of a provider could be used,
// with the state of every candidate that was considered.
type NoUsableProfileError struct {
	Provider   credential.Provider
	Candidates []Candidate
}

func (e *NoUsableProfileError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no usable auth profile for %s: no profiles configured\n"+
			"  Add one with: authprofiles add api-key %s <label>", e.Provider, e.Provider)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "no usable auth profile for %s:", e.Provider)
	for _, c := range e.Candidates {
		fmt.Fprintf(&b, "\n  %s: %s", c.ProfileID, c.Describe())
	}
	return b.String()
}

func (e *NoUsableProfileError) Is(target error) bool {
	return target == ErrNoUsableProfile
}
