package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <profile-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a profile",
	Long: `Remove a profile together with its order entry, usage statistics and
last-good marker.

Examples:
  authprofiles remove openai:old-key`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.svc.RemoveProfile(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
