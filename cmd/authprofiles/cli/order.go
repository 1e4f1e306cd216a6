package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/credential"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Show or change a provider's failover order",
}

var orderGetCmd = &cobra.Command{
	Use:   "get <provider>",
	Short: "Print the failover order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ids, err := a.svc.Order(ctx, credential.NormalizeProvider(args[0]))
			if err != nil {
				return err
			}
			if jsonOut {
				if ids == nil {
					ids = []string{}
				}
				return printJSON(ids)
			}
			if len(ids) == 0 {
				fmt.Println("No order set; the last known good profile is used.")
				return nil
			}
			for i, id := range ids {
				fmt.Printf("%d. %s\n", i+1, id)
			}
			return nil
		})
	},
}

var orderSetCmd = &cobra.Command{
	Use:   "set <provider> [profile-id...]",
	Short: "Replace the failover order",
	Long: `Replace the failover order of a provider. The first profile is tried
first. With no profile IDs the order is cleared.

Examples:
  authprofiles order set anthropic anthropic:work anthropic:personal`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			provider := credential.NormalizeProvider(args[0])
			if err := a.svc.SetOrder(ctx, provider, args[1:]); err != nil {
				return err
			}
			fmt.Printf("Order for %s updated\n", provider)
			return nil
		})
	},
}

func init() {
	orderCmd.AddCommand(orderGetCmd, orderSetCmd)
	rootCmd.AddCommand(orderCmd)
}
