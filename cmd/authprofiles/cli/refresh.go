package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/refresh"
	"github.com/majorcontext/authprofiles/internal/ui"
)

var (
	refreshWatch    bool
	refreshInterval time.Duration
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [profile-id]",
	Short: "Refresh OAuth tokens",
	Long: `Refresh one OAuth profile, or every profile whose token expires within
the warn window. With --watch, keep running and refresh on an interval until
interrupted.

Examples:
  authprofiles refresh google:work
  authprofiles refresh --watch --interval 2m`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if len(args) == 1 {
				if refreshWatch {
					return fmt.Errorf("--watch refreshes every profile; drop the profile ID")
				}
				cred, err := a.svc.Refresh(ctx, args[0])
				if err != nil {
					return err
				}
				if exp, ok := cred.ExpiresAt(); ok {
					ui.Infof("%s %s refreshed, expires %s", ui.OKTag(), args[0], exp.Local().Format(time.RFC3339))
				} else {
					ui.Infof("%s %s refreshed", ui.OKTag(), args[0])
				}
				return nil
			}

			w := refresh.NewWatcher(a.svc.File(), a.svc,
				refresh.WithInterval(refreshInterval),
				refresh.WithLookahead(cfg.Health.WarnAfter))

			if refreshWatch {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				ui.Infof("Refreshing every %s, Ctrl-C to stop", refreshInterval)
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			report, err := w.RunOnce(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				failed := make(map[string]string, len(report.Failed))
				for id, err := range report.Failed {
					failed[id] = err.Error()
				}
				return printJSON(map[string]any{"refreshed": report.Refreshed, "failed": failed})
			}
			for _, id := range report.Refreshed {
				ui.Infof("%s %s refreshed", ui.OKTag(), id)
			}
			for id, err := range report.Failed {
				ui.Infof("%s %s: %v", ui.FailTag(), id, err)
			}
			if len(report.Refreshed) == 0 && len(report.Failed) == 0 {
				ui.Info("No tokens due for refresh.")
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d profile(s) failed to refresh", len(report.Failed))
			}
			return nil
		})
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshWatch, "watch", false, "keep refreshing until interrupted")
	refreshCmd.Flags().DurationVar(&refreshInterval, "interval", refresh.DefaultInterval, "scan interval with --watch")
	rootCmd.AddCommand(refreshCmd)
}
