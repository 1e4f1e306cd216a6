package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/failover"
	"github.com/majorcontext/authprofiles/internal/health"
	"github.com/majorcontext/authprofiles/internal/ui"
)

var resolveShowSecret bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <provider>",
	Short: "Show which profile a provider resolves to",
	Long: `Select the profile a gateway would use for a provider right now,
refreshing an expiring OAuth token on the way. Skipped candidates are listed
with the reason they were passed over.

With --show-secret only the secret is printed, for use in scripts:

  export OPENAI_API_KEY=$(authprofiles resolve openai --show-secret)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runResolve(ctx, a, credential.NormalizeProvider(args[0]))
		})
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveShowSecret, "show-secret", false, "print only the secret")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(ctx context.Context, a *app, provider credential.Provider) error {
	if resolveShowSecret {
		secret, _, err := a.svc.ResolveSecret(ctx, provider)
		if err != nil {
			return err
		}
		fmt.Println(secret)
		return nil
	}

	res, err := a.svc.Resolve(ctx, provider)
	if err != nil {
		return err
	}

	if jsonOut {
		type skipped struct {
			ProfileID string        `json:"profileId"`
			Status    health.Status `json:"status"`
			Detail    string        `json:"detail"`
		}
		out := struct {
			ProfileID    string          `json:"profileId"`
			Type         credential.Type `json:"type"`
			Status       health.Status   `json:"status"`
			Refreshed    bool            `json:"refreshed,omitempty"`
			FromLastGood bool            `json:"fromLastGood,omitempty"`
			Skipped      []skipped       `json:"skipped,omitempty"`
		}{
			ProfileID:    res.ProfileID,
			Type:         res.Credential.Type,
			Status:       res.Health.Status,
			Refreshed:    res.Refreshed,
			FromLastGood: res.FromLastGood,
		}
		for _, c := range res.Skipped {
			out.Skipped = append(out.Skipped, skipped{c.ProfileID, c.Health.Status, c.Describe()})
		}
		return printJSON(out)
	}

	fmt.Printf("%s %s (%s)\n", ui.StatusTag(res.Health.Status), ui.Bold(res.ProfileID), res.Credential.Type)
	if secret := res.Credential.Secret(); secret != "" {
		fmt.Printf("  secret: %s\n", credential.Mask(secret))
	} else if ref := res.Credential.SecretRef(); ref != "" {
		fmt.Printf("  secret: %s\n", ref)
	}
	if res.Refreshed {
		fmt.Println("  token refreshed")
	}
	if res.RefreshErr != nil {
		ui.Warnf("refresh failed, token still valid: %v", res.RefreshErr)
	}
	if res.FromLastGood {
		fmt.Println(ui.Dim("  no order set; using last known good profile"))
	}
	printSkipped(res.Skipped)
	return nil
}

func printSkipped(cands []failover.Candidate) {
	for _, c := range cands {
		fmt.Printf("  %s skipped %s: %s\n", ui.StatusTag(c.Health.Status), c.ProfileID, c.Describe())
	}
}
