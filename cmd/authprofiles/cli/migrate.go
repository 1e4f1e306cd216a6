package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/config"
	"github.com/majorcontext/authprofiles/internal/journal"
	"github.com/majorcontext/authprofiles/internal/migrate"
)

var (
	migrateYes       bool
	migrateDryRun    bool
	migrateAppConfig string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Repair legacy profile IDs and prune retired profiles",
	Long: `Bring a store written by an older release up to date:

  - profiles under legacy IDs move to their current IDs, carrying their
    order position, usage statistics and last-good marker
  - retired profiles (such as CLI-relay logins) are removed together with
    every order, usage and last-good entry that no longer resolves

Renames come from migrate.renames in the config file. With --app-config,
profile IDs referenced by that YAML file that no longer exist are matched
to the provider's OAuth profile, and the file is updated to match.

Changes are shown for confirmation first. Running migrate again after it
succeeded changes nothing.

Examples:
  authprofiles migrate --dry-run
  authprofiles migrate --app-config ~/.gateway/config.yaml --yes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runMigrate)
	},
}

func init() {
	migrateCmd.Flags().BoolVarP(&migrateYes, "yes", "y", false, "apply without confirmation")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "show changes without applying them")
	migrateCmd.Flags().StringVar(&migrateAppConfig, "app-config", "", "application YAML file whose profile references should be kept in sync")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(ctx context.Context, a *app) error {
	opts := migrate.Options{
		Renames:    cfg.Migrate.Renames,
		Deprecated: cfg.Deprecated(),
		DryRun:     true,
	}
	if migrateAppConfig != "" {
		refs, err := config.ProfileRefs(migrateAppConfig)
		if err != nil {
			return err
		}
		opts.Referenced = refs
		opts.Patch = config.Patcher(migrateAppConfig)
	}

	file := a.svc.File()
	plan, err := migrate.Run(ctx, file, opts)
	if err != nil {
		return err
	}
	if len(plan.ChangeLog) == 0 {
		fmt.Println("Store is up to date.")
		return nil
	}

	fmt.Println("Planned changes:")
	for _, line := range plan.ChangeLog {
		fmt.Println("  " + line)
	}
	if migrateDryRun {
		return nil
	}
	if !migrateYes {
		ok, err := confirm("Apply these changes?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	opts.DryRun = false
	res, err := migrate.Run(ctx, file, opts)
	if err != nil {
		return err
	}
	if a.journal != nil {
		for _, line := range res.ChangeLog {
			if _, err := a.journal.Append(ctx, journal.Event{Kind: journal.KindMigrate, Detail: line}); err != nil {
				return fmt.Errorf("recording migration: %w", err)
			}
		}
	}
	fmt.Printf("Applied %d change(s)", len(res.ChangeLog))
	if res.ConfigPatched {
		fmt.Printf("; updated %s", migrateAppConfig)
	}
	fmt.Println()
	return nil
}
