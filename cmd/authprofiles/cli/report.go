package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/cooldown"
)

var reportKind string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Record the outcome of using a profile",
	Long: `Record whether a request made with a profile succeeded. Gateways call
this after every request; it is exposed here for scripts and testing.`,
}

var reportSuccessCmd = &cobra.Command{
	Use:   "success <profile-id>",
	Short: "Clear failures and mark the profile last known good",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.svc.ReportSuccess(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s marked good\n", args[0])
			return nil
		})
	},
}

var reportFailureCmd = &cobra.Command{
	Use:   "failure <profile-id>",
	Short: "Record a failure and apply cooldown",
	Long: `Record a failed request. Kinds:

  billing     quota or payment problem; disables the profile for hours,
              doubling with each repeat
  transient   network or server error; short cooldown, disabled after
              repeated failures
  rate_limit  rate limited; scheduled like transient
  auth        credential rejected; scheduled like transient`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := cooldown.ParseKind(reportKind)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.svc.ReportFailure(ctx, args[0], kind)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(stats)
			}
			fmt.Printf("%s: %d recent %s failure(s)\n", args[0], stats.FailureCount, kind)
			if until := time.UnixMilli(stats.DisabledUntil); stats.DisabledUntil > 0 && until.After(time.Now()) {
				fmt.Printf("disabled until %s (%s)\n", until.Format(time.RFC3339), stats.DisabledReason)
			}
			return nil
		})
	},
}

func init() {
	reportFailureCmd.Flags().StringVar(&reportKind, "kind", string(cooldown.KindTransient), "failure kind: billing, transient, rate_limit, auth")
	reportCmd.AddCommand(reportSuccessCmd, reportFailureCmd)
	rootCmd.AddCommand(reportCmd)
}
