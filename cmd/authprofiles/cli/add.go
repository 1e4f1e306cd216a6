package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/secrets"
)

var (
	addRef     string
	addEmail   string
	addExpires string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an API key or token profile",
}

var addAPIKeyCmd = &cobra.Command{
	Use:   "api-key <provider> [label]",
	Short: "Store an API key",
	Long: `Store an API key for a provider. The key is read from the terminal
without echo, or from stdin when piped. With --ref, the key stays in an
external secret store and only the reference is saved.

Supported references:
  env://OPENAI_API_KEY
  keychain://service/account
  op://vault/item/field
  awssm://[region]/name[?key=field&role_arn=...]

Examples:
  authprofiles add api-key openai
  authprofiles add api-key anthropic work --ref op://Dev/Anthropic/credential
  echo "$KEY" | authprofiles add api-key openai ci`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdd(cmd, args, credential.TypeAPIKey)
	},
}

var addTokenCmd = &cobra.Command{
	Use:   "token <provider> [label]",
	Short: "Store a static bearer token",
	Long: `Store a pasted bearer token. Tokens should carry an expiry so health
checks can warn before they lapse.

Examples:
  authprofiles add token anthropic setup --expires 8760h`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdd(cmd, args, credential.TypeToken)
	},
}

func init() {
	for _, c := range []*cobra.Command{addAPIKeyCmd, addTokenCmd} {
		c.Flags().StringVar(&addRef, "ref", "", "secret reference instead of an inline secret")
		c.Flags().StringVar(&addEmail, "email", "", "account email shown in listings")
		addCmd.AddCommand(c)
	}
	addTokenCmd.Flags().StringVar(&addExpires, "expires", "", "token lifetime from now, e.g. 720h")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string, typ credential.Type) error {
	provider := credential.NormalizeProvider(args[0])
	label := "default"
	if len(args) == 2 {
		label = args[1]
	}
	id := credential.ProfileID(provider, label)

	cred := credential.Credential{Type: typ, Provider: provider, Email: addEmail}
	if addRef != "" {
		if !secrets.IsReference(addRef) {
			return fmt.Errorf("--ref %q is not a secret reference (expected scheme://...)", addRef)
		}
	}

	var secret string
	if addRef == "" {
		var err error
		secret, err = readSecret(fmt.Sprintf("Enter %s for %s", typ, id))
		if err != nil {
			return err
		}
		if secret == "" {
			return fmt.Errorf("no %s entered", typ)
		}
	}

	switch typ {
	case credential.TypeAPIKey:
		cred.Key, cred.KeyRef = secret, addRef
	case credential.TypeToken:
		cred.Token, cred.TokenRef = secret, addRef
		if addExpires != "" {
			d, err := time.ParseDuration(addExpires)
			if err != nil {
				return fmt.Errorf("--expires: %w", err)
			}
			cred.Expires = time.Now().Add(d).UnixMilli()
		}
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if addRef != "" {
			if _, err := a.secrets.Resolve(ctx, addRef); err != nil {
				return fmt.Errorf("checking %s: %w", addRef, err)
			}
		}
		if err := a.svc.UpsertProfile(ctx, id, cred); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]string{"profileId": id})
		}
		fmt.Printf("Saved %s to %s\n", id, cfg.Store.Path)
		return nil
	})
}
