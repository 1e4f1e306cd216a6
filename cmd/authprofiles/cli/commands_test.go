package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/authprofiles/internal/config"
	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/profiles"
	"github.com/majorcontext/authprofiles/internal/storage"
)

// execute runs the root command against a store in a fresh home directory.
func execute(t *testing.T, home string, args ...string) error {
	t.Helper()
	t.Setenv(config.EnvHome, home)
	t.Cleanup(func() {
		addRef, addEmail, addExpires = "", "", ""
		jsonOut, verbose, storePath = false, false, ""
	})
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestAddWithReference(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AUTHPROFILES_TEST_KEY", "sk-test")

	err := execute(t, home, "add", "api-key", "OpenAI", "ci", "--ref", "env://AUTHPROFILES_TEST_KEY")
	require.NoError(t, err)

	st, err := storage.Open(filepath.Join(home, "auth-profiles.json")).Read(context.Background())
	require.NoError(t, err)
	cred, ok := st.Profiles["openai:ci"]
	require.True(t, ok, "profile not stored under normalized provider")
	assert.Equal(t, credential.TypeAPIKey, cred.Type)
	assert.Equal(t, "env://AUTHPROFILES_TEST_KEY", cred.KeyRef)
	assert.Empty(t, cred.Key, "referenced secrets must not be copied into the store")
}

func TestAddRejectsUnresolvableReference(t *testing.T) {
	home := t.TempDir()
	err := execute(t, home, "add", "api-key", "openai", "--ref", "env://AUTHPROFILES_TEST_UNSET")
	assert.Error(t, err)
}

func TestRemoveUnknownProfile(t *testing.T) {
	err := execute(t, t.TempDir(), "remove", "openai:nope")
	assert.ErrorIs(t, err, profiles.ErrProfileNotFound)
}

func TestOrderSetAndStorePathFlag(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(t.TempDir(), "shared.json")
	t.Setenv("AUTHPROFILES_TEST_KEY", "sk-test")

	require.NoError(t, execute(t, home, "--store", path, "add", "api-key", "anthropic", "a", "--ref", "env://AUTHPROFILES_TEST_KEY"))
	require.NoError(t, execute(t, home, "--store", path, "add", "api-key", "anthropic", "b", "--ref", "env://AUTHPROFILES_TEST_KEY"))
	require.NoError(t, execute(t, home, "--store", path, "order", "set", "anthropic", "anthropic:b", "anthropic:a"))

	st, err := storage.Open(path).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic:b", "anthropic:a"}, st.Order[credential.ProviderAnthropic])

	err = execute(t, home, "--store", path, "order", "set", "anthropic", "anthropic:missing")
	assert.Error(t, err)
}
