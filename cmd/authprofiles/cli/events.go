package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events [profile-id]",
	Short: "Show recent profile events",
	Long: `Show the most recent entries of the event journal: profiles added and
removed, failures and cooldowns, refreshes and logins. Secrets are never
recorded.

Examples:
  authprofiles events
  authprofiles events anthropic:work -n 50`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if a.journal == nil {
				return fmt.Errorf("event journal is disabled or unavailable")
			}
			profileID := ""
			if len(args) == 1 {
				profileID = args[0]
			}
			events, err := a.svc.Events(ctx, profileID, eventsLimit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(events)
			}
			if len(events) == 0 {
				fmt.Println("No events recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tWHEN\tPROFILE\tEVENT\tDETAIL")
			for _, e := range events {
				profile := e.ProfileID
				if profile == "" {
					profile = string(e.Provider)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, humanize.Time(e.Time), profile, e.Kind, e.Detail)
			}
			return w.Flush()
		})
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "number of events to show")
	rootCmd.AddCommand(eventsCmd)
}
