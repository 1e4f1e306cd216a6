// Package cli implements the authprofiles command-line interface using Cobra.
// It manages the profile store shared by gateways and other tools: adding
// and removing credentials, ordering them, checking their health and
// running OAuth logins.
package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/config"
	"github.com/majorcontext/authprofiles/internal/cooldown"
	"github.com/majorcontext/authprofiles/internal/journal"
	"github.com/majorcontext/authprofiles/internal/log"
	"github.com/majorcontext/authprofiles/internal/oauth"
	"github.com/majorcontext/authprofiles/internal/profiles"
	"github.com/majorcontext/authprofiles/internal/secrets"
	"github.com/majorcontext/authprofiles/internal/ui"
)

var (
	verbose   bool
	jsonOut   bool
	storePath string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "authprofiles",
	Short: "Manage provider credentials and failover order",
	Long: `authprofiles manages the auth profile store: the credentials a gateway
uses to talk to model providers, their preference order, and the cooldowns
that keep a failing credential out of rotation.

The store lives at ~/.authprofiles/auth-profiles.json by default and may be
shared by any number of processes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if storePath != "" {
			cfg.Store.Path = storePath
		}

		interactive := cmd.Name() == "login"
		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			Interactive:   interactive,
			DebugDir:      config.DebugDir(),
			RetentionDays: cfg.Debug.RetentionDays,
		}); err != nil {
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		log.SetInvocation(uuid.NewString())
		log.Debug("command started", "command", cmd.CommandPath(), "store", cfg.Store.Path)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		ui.Error(err.Error())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "profile store path (env: "+config.EnvStore+")")
}

// app bundles what commands need, built from the loaded configuration.
type app struct {
	svc     *profiles.Service
	manager *oauth.Manager
	flow    *oauth.Flow
	journal *journal.Journal
	secrets *secrets.Registry
}

func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Debug("closing journal", "error", err)
		}
	}
}

// newApp opens the store, journal and OAuth clients.
func newApp(ctx context.Context) (*app, error) {
	reg := cfg.SecretsRegistry()
	file := cfg.StoreFile()

	clients, err := cfg.OAuthClients(ctx, reg)
	if err != nil {
		return nil, err
	}
	var managerOpts []oauth.ManagerOption
	for provider, c := range clients {
		managerOpts = append(managerOpts, oauth.WithTokenRefresher(provider, &oauth.OAuth2Refresher{Config: c}))
	}
	manager := oauth.NewManager(file, managerOpts...)

	rt := &app{
		manager: manager,
		flow:    oauth.NewFlow(clients),
		secrets: reg,
	}

	opts := []profiles.Option{
		profiles.WithPolicy(cooldown.New(cfg.CooldownPolicyConfig())),
		profiles.WithWarnAfter(cfg.Health.WarnAfter),
		profiles.WithRefresher(manager),
		profiles.WithSecrets(reg),
	}
	if !cfg.Journal.Disabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Warn("event journal unavailable", "path", cfg.Journal.Path, "error", err)
		} else {
			rt.journal = j
			opts = append(opts, profiles.WithJournal(j))
		}
	}
	rt.svc = profiles.New(file, opts...)
	return rt, nil
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, rt *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newApp(ctx)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer rt.Close()
	return fn(ctx, rt)
}
