package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/health"
	"github.com/majorcontext/authprofiles/internal/storage"
	"github.com/majorcontext/authprofiles/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the store, its permissions and the event journal",
	Long: `Run read-only checks and report problems:

  - the store parses and every credential has a known type
  - the store and its directory are private to the current user
  - every profile in a provider's order exists
  - the event journal's hash chain is intact
  - which secret reference schemes are available`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runDoctor)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(ctx context.Context, a *app) error {
	problems := 0

	ui.Section("Store")
	st, err := a.svc.File().Read(ctx)
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		problems++
		fmt.Printf("%s %v\n", ui.FailTag(), err)
	case err != nil:
		return err
	default:
		fmt.Printf("%s %s (%d profiles)\n", ui.OKTag(), cfg.Store.Path, len(st.Profiles))
	}

	findings, err := storage.CheckPermissions(cfg.Store.Path)
	if err != nil {
		return err
	}
	for _, f := range findings {
		problems++
		fmt.Printf("%s %s\n", ui.WarnTag(), f)
	}
	if len(findings) == 0 {
		fmt.Printf("%s permissions are private\n", ui.OKTag())
	}

	if st != nil {
		for _, provider := range st.Providers() {
			for _, id := range st.Order[provider] {
				if _, ok := st.Profiles[id]; !ok {
					problems++
					fmt.Printf("%s order for %s lists missing profile %s (run: authprofiles migrate)\n", ui.WarnTag(), provider, id)
				}
			}
		}

		rows, err := a.svc.HealthSummary(ctx, 0)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.Status == health.StatusMissing || r.Status == health.StatusExpired {
				fmt.Printf("%s %s is %s: %s\n", ui.WarnTag(), r.ProfileID, r.Status, detail(r))
			}
		}
	}

	fmt.Println()
	ui.Section("Journal")
	if a.journal == nil {
		fmt.Printf("%s disabled or unavailable\n", ui.InfoTag())
	} else if n, err := a.journal.Verify(ctx); err != nil {
		problems++
		fmt.Printf("%s %v (after %d intact events)\n", ui.FailTag(), err, n)
	} else {
		fmt.Printf("%s %d events, chain intact\n", ui.OKTag(), n)
	}

	fmt.Println()
	ui.Section("Secret references")
	fmt.Printf("%s schemes: %s\n", ui.InfoTag(), strings.Join(a.secrets.Schemes(), ", "))

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	return nil
}
