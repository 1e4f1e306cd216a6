package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/oauth"
	"github.com/majorcontext/authprofiles/internal/ui"
)

var (
	loginProfile string
	loginMode    string
	loginTimeout time.Duration
	loginAddr    string
)

var loginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Sign in with OAuth and store the tokens",
	Long: `Run an OAuth authorization for a provider configured under
oauth.providers in ~/.authprofiles/config.yaml.

Local mode prints a URL to open in this machine's browser and waits for the
redirect on a loopback port. Remote mode, used over SSH and on hosts
without a display, asks you to paste the URL the browser was redirected to.
The mode is detected automatically; override it with --mode or
` + oauth.ModeEnvVar + `.

Examples:
  authprofiles login google
  authprofiles login google --profile google:work --mode remote`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runLogin(ctx, a, credential.NormalizeProvider(args[0]))
		})
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginProfile, "profile", "", "profile ID to store the tokens under (default <provider>:default)")
	loginCmd.Flags().StringVar(&loginMode, "mode", "", "local or remote (default: detect)")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", oauth.DefaultLoginTimeout, "how long to wait for authorization")
	loginCmd.Flags().StringVar(&loginAddr, "callback-addr", "", "loopback address for the local callback server")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(ctx context.Context, a *app, provider credential.Provider) error {
	mode := oauth.Mode(loginMode)
	if mode == "" && cfg.OAuth.Mode != "" {
		mode = oauth.Mode(cfg.OAuth.Mode)
	}
	if mode != "" && mode != oauth.ModeLocal && mode != oauth.ModeRemote {
		return fmt.Errorf("--mode must be %s or %s", oauth.ModeLocal, oauth.ModeRemote)
	}

	cred, err := a.svc.Login(ctx, provider, loginProfile, a.flow, terminalPrompter{}, oauth.LoginOptions{
		Mode:         mode,
		Timeout:      loginTimeout,
		CallbackAddr: loginAddr,
	})
	if err != nil {
		return err
	}

	id := loginProfile
	if id == "" {
		id = credential.ProfileID(provider, "default")
	}
	ui.Infof("%s Signed in as %s", ui.OKTag(), id)
	if exp, ok := cred.ExpiresAt(); ok {
		ui.Infof("  access token expires %s", exp.Local().Format(time.Kitchen))
	}
	if !cred.CanRefresh() {
		ui.Warn("no refresh token was issued; you will need to log in again when the token expires")
	}
	return nil
}

// terminalPrompter shows the authorization URL on stderr and reads the
// pasted redirect from stdin.
type terminalPrompter struct{}

func (terminalPrompter) ShowAuthURL(ctx context.Context, authURL string, mode oauth.Mode) error {
	switch mode {
	case oauth.ModeRemote:
		ui.Infof("\nOpen this URL in a browser on any machine to authorize:\n\n  %s\n", authURL)
		ui.Info("After approving, copy the full URL of the page you were redirected to")
		ui.Info("(it may fail to load) and paste it here.")
		fmt.Fprint(os.Stderr, "\nRedirect URL: ")
	default:
		ui.Infof("\nOpen this URL in your browser to authorize:\n\n  %s\n", authURL)
		ui.Info("Waiting for authorization...")
	}
	return nil
}

func (terminalPrompter) ReadRedirect(ctx context.Context) (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading redirect URL: %w", err)
	}
	return strings.TrimSpace(line), nil
}
