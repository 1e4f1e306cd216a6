package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/health"
	"github.com/majorcontext/authprofiles/internal/profiles"
	"github.com/majorcontext/authprofiles/internal/ui"
)

var listWarnAfter string

var listCmd = &cobra.Command{
	Use:     "list [provider]",
	Aliases: []string{"ls", "status"},
	Short:   "Show every profile and its health",
	Long: `Show every profile with its health status, grouped by provider in
preference order.

Statuses:
  ok            usable
  expiring      usable, expires within the warn window
  expired       token expired and could not be refreshed
  missing       credential data is incomplete
  disabled      taken out of rotation after billing or repeated failures
  cooling-down  briefly skipped after a recent failure

Examples:
  authprofiles list
  authprofiles list anthropic
  authprofiles list --warn-after 1h --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runList(ctx, a, args)
		})
	},
}

func init() {
	listCmd.Flags().StringVar(&listWarnAfter, "warn-after", "", "report tokens expiring within this duration as expiring")
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context, a *app, args []string) error {
	warnAfter, err := parseOptionalDuration(listWarnAfter)
	if err != nil {
		return fmt.Errorf("--warn-after: %w", err)
	}
	rows, err := a.svc.HealthSummary(ctx, warnAfter)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		provider := credential.NormalizeProvider(args[0])
		filtered := rows[:0]
		for _, r := range rows {
			if r.Provider == provider {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	if jsonOut {
		if rows == nil {
			rows = []profiles.ProfileHealth{}
		}
		return printJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No profiles found.")
		fmt.Println("\nAdd one with: authprofiles add api-key <provider>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tTYPE\tSTATUS\tDETAIL\tLAST USED")
	for _, r := range rows {
		id := r.ProfileID
		if r.LastGood {
			id += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\n",
			id,
			r.Type,
			ui.StatusTag(r.Status), ui.Status(r.Status),
			detail(r),
			formatMillis(r.LastUsedMs),
		)
	}
	w.Flush()
	fmt.Println(ui.Dim("* last known good"))
	return nil
}

func detail(r profiles.ProfileHealth) string {
	switch r.Status {
	case health.StatusOK, health.StatusExpiring:
		if r.Remaining > 0 {
			return "expires in " + health.FormatDuration(r.Remaining)
		}
		if r.Email != "" {
			return r.Email
		}
		return "-"
	default:
		return health.Describe(health.Result{Status: r.Status, Remaining: r.Remaining, Reason: r.Reason})
	}
}
