package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/majorcontext/authprofiles/internal/credential"
)

// TokenRefresher exchanges an oauth credential's refresh token for a new
// access token. Implementations do not touch the store and do not retry.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, cred credential.Credential) (credential.Credential, error)
}

// OAuth2Refresher refreshes tokens against a standard OAuth2 token endpoint.
type OAuth2Refresher struct {
	Config     *oauth2.Config
	HTTPClient *http.Client // Override for testing
}

// RefreshToken runs the refresh_token grant. The returned credential keeps
// the email and metadata of cred; a response without a new refresh token
// keeps the old one.
func (r *OAuth2Refresher) RefreshToken(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	if cred.Refresh == "" {
		return credential.Credential{}, ErrNoRefreshToken
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}

	// An empty access token forces the source to hit the token endpoint.
	tok, err := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.Refresh}).Token()
	if err != nil {
		return credential.Credential{}, err
	}
	if tok.AccessToken == "" {
		return credential.Credential{}, fmt.Errorf("no access token in refresh response")
	}

	out := cred.Clone()
	out.Access = tok.AccessToken
	if tok.RefreshToken != "" {
		out.Refresh = tok.RefreshToken
	}
	out.Expires = 0
	if !tok.Expiry.IsZero() {
		out.Expires = tok.Expiry.UnixMilli()
	}
	return out, nil
}

// IsRevoked reports whether err is a token endpoint rejection of the refresh
// token itself.
func IsRevoked(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re) && re.ErrorCode == "invalid_grant"
}

// retryable reports whether a refresh error is worth retrying. Client errors
// from the token endpoint are final; server errors and transport failures
// are retried.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNoRefreshToken) {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.Response != nil && re.Response.StatusCode >= 500
	}
	return true
}
