package secrets

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// OnePasswordResolver reads secrets with the 1Password CLI: op://Vault/Item/field.
type OnePasswordResolver struct {
	// Command overrides the op binary name.
	Command string
}

// Scheme returns "op".
func (r *OnePasswordResolver) Scheme() string {
	return "op"
}

func (r *OnePasswordResolver) command() string {
	if r.Command != "" {
		return r.Command
	}
	return "op"
}

// Resolve runs `op read <reference>`.
func (r *OnePasswordResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if parts := strings.Split(strings.TrimPrefix(reference, "op://"), "/"); len(parts) < 3 {
		return "", &InvalidReferenceError{Reference: reference, Reason: "expected op://vault/item/field"}
	}

	bin, err := exec.LookPath(r.command())
	if err != nil {
		return "", &BackendError{
			Backend: "1Password",
			Reason:  "op CLI not found in PATH",
			Fix:     "Install from https://1password.com/downloads/command-line/\nThen run: op signin",
			Err:     err,
		}
	}

	cmd := exec.CommandContext(ctx, bin, "read", "--no-newline", reference)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", classifyOpError(stderr.String(), reference)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// classifyOpError maps op CLI stderr to an actionable error.
func classifyOpError(stderr, reference string) error {
	msg := strings.TrimSpace(stderr)
	switch {
	case strings.Contains(msg, "not currently signed in"), strings.Contains(msg, "not signed in"):
		return &BackendError{
			Backend:   "1Password",
			Reference: reference,
			Reason:    "not signed in",
			Fix:       "Run: eval $(op signin)\n\n  Or for unattended use, set OP_SERVICE_ACCOUNT_TOKEN.",
		}
	case strings.Contains(msg, "isn't an item"), strings.Contains(msg, "could not be found"):
		return &NotFoundError{Reference: reference, Backend: "1Password"}
	case strings.Contains(msg, "isn't a vault"):
		vault, _, _ := strings.Cut(strings.TrimPrefix(reference, "op://"), "/")
		return &BackendError{
			Backend:   "1Password",
			Reference: reference,
			Reason:    "vault not found or not accessible",
			Fix:       "Vault \"" + vault + "\" not found. List available vaults with: op vault list",
		}
	default:
		return &BackendError{Backend: "1Password", Reference: reference, Reason: msg}
	}
}
