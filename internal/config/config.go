// Package config loads the authprofiles settings file, ~/.authprofiles/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/majorcontext/authprofiles/internal/cooldown"
	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/health"
	"github.com/majorcontext/authprofiles/internal/migrate"
	"github.com/majorcontext/authprofiles/internal/secrets"
	"github.com/majorcontext/authprofiles/internal/storage"
)

// Environment overrides.
const (
	EnvHome        = "AUTHPROFILES_HOME"
	EnvStore       = "AUTHPROFILES_STORE"
	EnvLockTimeout = "AUTHPROFILES_LOCK_TIMEOUT"
	EnvWarnAfter   = "AUTHPROFILES_WARN_AFTER"
)

// Config holds authprofiles settings.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Cooldown CooldownConfig `yaml:"cooldown"`
	Health   HealthConfig   `yaml:"health"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Migrate  MigrateConfig  `yaml:"migrate"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	Journal  JournalConfig  `yaml:"journal"`
	Debug    DebugConfig    `yaml:"debug"`
}

// StoreConfig locates the profile store.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// CooldownConfig mirrors cooldown.Config in the settings file.
type CooldownConfig struct {
	BillingBackoffHours           float64            `yaml:"billing_backoff_hours"`
	BillingBackoffHoursByProvider map[string]float64 `yaml:"billing_backoff_hours_by_provider"`
	BillingMaxHours               float64            `yaml:"billing_max_hours"`
	FailureWindowHours            float64            `yaml:"failure_window_hours"`
	TransientDisableThreshold     int                `yaml:"transient_disable_threshold"`
	TransientDisableMinutes       float64            `yaml:"transient_disable_minutes"`
}

// HealthConfig configures classification.
type HealthConfig struct {
	WarnAfter time.Duration `yaml:"warn_after"`
}

// MigrateConfig lists legacy profile IDs.
type MigrateConfig struct {
	Renames    []migrate.Rename `yaml:"renames"`
	Deprecated struct {
		ProfileIDs []string `yaml:"profile_ids"`
		AuthModes  []string `yaml:"auth_modes"`
	} `yaml:"deprecated"`
}

// SecretsConfig configures secret reference backends.
type SecretsConfig struct {
	AWS struct {
		Region  string `yaml:"region"`
		RoleARN string `yaml:"role_arn"`
	} `yaml:"aws"`
}

// JournalConfig configures the event journal.
type JournalConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// DebugConfig configures debug logging.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dc := cooldown.DefaultConfig()
	return &Config{
		Store: StoreConfig{
			Path:        filepath.Join(Dir(), "auth-profiles.json"),
			LockTimeout: storage.DefaultLockTimeout,
		},
		Cooldown: CooldownConfig{
			BillingBackoffHours:       dc.BillingBackoffHours,
			BillingMaxHours:           dc.BillingMaxHours,
			FailureWindowHours:        dc.FailureWindowHours,
			TransientDisableThreshold: dc.DisableThreshold,
			TransientDisableMinutes:   dc.DisableWindow.Minutes(),
		},
		Health:  HealthConfig{WarnAfter: health.DefaultWarnAfter},
		Journal: JournalConfig{Path: filepath.Join(Dir(), "events.db")},
		Debug:   DebugConfig{RetentionDays: 14},
	}
}

// Dir returns the settings directory: $AUTHPROFILES_HOME or ~/.authprofiles.
func Dir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".authprofiles")
	}
	return filepath.Join(homeDir, ".authprofiles")
}

// Path returns the settings file path.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DebugDir returns the directory for debug logs.
func DebugDir() string {
	return filepath.Join(Dir(), "debug")
}

// Load reads the settings file and applies environment overrides. A missing
// file yields the defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if p := os.Getenv(EnvStore); p != "" {
		c.Store.Path = p
	}
	if v := os.Getenv(EnvLockTimeout); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLockTimeout, err)
		}
		c.Store.LockTimeout = d
	}
	if v := os.Getenv(EnvWarnAfter); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWarnAfter, err)
		}
		c.Health.WarnAfter = d
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// CooldownPolicyConfig converts the cooldown settings. Zero values fall back
// to the defaults inside cooldown.New.
func (c *Config) CooldownPolicyConfig() cooldown.Config {
	byProvider := make(map[credential.Provider]float64, len(c.Cooldown.BillingBackoffHoursByProvider))
	for name, hours := range c.Cooldown.BillingBackoffHoursByProvider {
		byProvider[credential.NormalizeProvider(name)] = hours
	}
	return cooldown.Config{
		BillingBackoffHours:           c.Cooldown.BillingBackoffHours,
		BillingBackoffHoursByProvider: byProvider,
		BillingMaxHours:               c.Cooldown.BillingMaxHours,
		FailureWindowHours:            c.Cooldown.FailureWindowHours,
		DisableThreshold:              c.Cooldown.TransientDisableThreshold,
		DisableWindow:                 time.Duration(c.Cooldown.TransientDisableMinutes * float64(time.Minute)),
	}
}

// StoreFile opens the configured store.
func (c *Config) StoreFile() *storage.File {
	return storage.Open(c.Store.Path, storage.WithLockTimeout(c.Store.LockTimeout))
}

// Deprecated returns the built-in deprecated profiles plus the configured
// ones.
func (c *Config) Deprecated() migrate.Deprecated {
	dep := migrate.DefaultDeprecated()
	dep.ProfileIDs = append(dep.ProfileIDs, c.Migrate.Deprecated.ProfileIDs...)
	dep.AuthModes = append(dep.AuthModes, c.Migrate.Deprecated.AuthModes...)
	return dep
}

// SecretsRegistry returns the built-in secret backends configured from the
// secrets section.
func (c *Config) SecretsRegistry() *secrets.Registry {
	reg := secrets.Default()
	reg.Register(&secrets.AWSSecretsResolver{Region: c.Secrets.AWS.Region, RoleARN: c.Secrets.AWS.RoleARN})
	return reg
}
