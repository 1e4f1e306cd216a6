package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/log"
)

// DefaultLoginTimeout bounds an interactive authorization.
const DefaultLoginTimeout = 5 * time.Minute

// Prompter owns all terminal and browser I/O of an interactive login.
type Prompter interface {
	// ShowAuthURL presents the authorization URL: opening a browser in local
	// mode, printing it for another machine in remote mode.
	ShowAuthURL(ctx context.Context, authURL string, mode Mode) error
	// ReadRedirect blocks until the user pastes the redirect URL or code.
	ReadRedirect(ctx context.Context) (string, error)
}

// LoginOptions configures Login.
type LoginOptions struct {
	Mode    Mode
	Timeout time.Duration
	// CallbackAddr is the loopback listen address in local mode.
	// Defaults to 127.0.0.1 on a random port.
	CallbackAddr string
}

// Login runs an interactive authorization for provider. Both modes end in
// auth.CompleteAuth, so the resulting credential is identical. It returns
// an error wrapping ErrAuthTimeout if the user does not finish in time.
func Login(ctx context.Context, auth InteractiveAuth, provider credential.Provider, prompter Prompter, opts LoginOptions) (credential.Credential, error) {
	if opts.Mode == "" {
		opts.Mode = DetectMode()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLoginTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var wait func(context.Context) (string, error)
	switch opts.Mode {
	case ModeLocal:
		cs, err := startCallbackServer(opts.CallbackAddr)
		if err != nil {
			return credential.Credential{}, err
		}
		defer cs.close()
		if ro, ok := auth.(RedirectOverrider); ok {
			ro.OverrideRedirectURL(cs.redirectURL())
		}
		wait = cs.wait
	case ModeRemote:
		wait = func(ctx context.Context) (string, error) {
			return readAsync(ctx, prompter)
		}
	default:
		return credential.Credential{}, fmt.Errorf("unknown oauth mode %q", opts.Mode)
	}

	authURL, err := auth.BeginAuth(ctx, provider)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("starting authorization: %w", err)
	}
	if err := prompter.ShowAuthURL(ctx, authURL, opts.Mode); err != nil {
		return credential.Credential{}, err
	}
	log.Debug("waiting for authorization", "provider", provider, "mode", opts.Mode, "timeout", opts.Timeout)

	artifact, err := wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return credential.Credential{}, fmt.Errorf("%w after %s", ErrAuthTimeout, opts.Timeout)
		}
		return credential.Credential{}, err
	}

	cred, err := auth.CompleteAuth(ctx, artifact)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return credential.Credential{}, fmt.Errorf("%w after %s", ErrAuthTimeout, opts.Timeout)
		}
		return credential.Credential{}, err
	}
	return cred, nil
}

// readAsync reads from the prompter without letting a blocked terminal read
// outlive the deadline.
func readAsync(ctx context.Context, prompter Prompter) (string, error) {
	type result struct {
		artifact string
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		artifact, err := prompter.ReadRedirect(ctx)
		ch <- result{artifact, err}
	}()
	select {
	case r := <-ch:
		return r.artifact, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
