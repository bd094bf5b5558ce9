// Package config loads devscope settings from defaults, a config file,
// DEVSCOPE_* environment variables and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/greg-hellings/devscope/pkg/analytics"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DEVSCOPE_"

// Defaults.
const (
	DefaultProvider = "devscope"
	DefaultFormat   = "console"
	DefaultSchedule = "@every 5m"
	DefaultLogLevel = "warn"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// configFileNames are searched, in order, in the working directory and then
// in the user config directory.
var configFileNames = []string{"devscope.yaml", "devscope.yml", "devscope.toml"}

// Config is the top-level configuration.
type Config struct {
	Provider    string        `koanf:"provider"`
	BaseURL     string        `koanf:"base_url"`
	Token       string        `koanf:"token"`
	Timeout     time.Duration `koanf:"timeout"`
	StatePath   string        `koanf:"state_path"`
	LogLevel    string        `koanf:"log_level"`
	MetricsAddr string        `koanf:"metrics_addr"`
	Format      string        `koanf:"format"`
	NoColor     bool          `koanf:"no_color"`
	Schedule    string        `koanf:"schedule"`
	Repo        string        `koanf:"repo"`

	// Providers holds per-provider overrides. Empty fields inherit the
	// top-level values.
	Providers map[string]ProviderConfig `koanf:"providers"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

// ProviderConfig contains settings for one data source.
type ProviderConfig struct {
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

// Load reads configuration. Precedence (highest to lowest): explicitly set
// flags > environment > config file > defaults. An empty cfgFile searches
// the default locations; a missing explicit file is an error.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"provider":   DefaultProvider,
		"timeout":    analytics.DefaultTimeout.String(),
		"state_path": DefaultStatePath(),
		"log_level":  DefaultLogLevel,
		"format":     DefaultFormat,
		"no_color":   false,
		"schedule":   DefaultSchedule,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used, err := findConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if used != "" {
		if err := loadFile(k, used); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
		slog.Debug("Loaded config file", "path", used)
	}

	// 3. Environment: DEVSCOPE_BASE_URL -> base_url
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "state" {
				return "state_path", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var raw map[string]interface{}
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return err
		}
		return k.Load(confmap.Provider(raw, "."), nil)
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// findConfigFile finds the config file to use.
// Priority: explicit path > working directory > user config directory.
func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "devscope"))
	}
	for _, dir := range dirs {
		for _, name := range configFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", nil
}

// DefaultStatePath returns the session state file location.
func DefaultStatePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "devscope", "state.yaml")
	}
	return ".devscope-state.yaml"
}

// Validate checks the configuration for values no command can work with.
func (c *Config) Validate() error {
	if !analytics.IsSupportedProvider(c.Provider) {
		return fmt.Errorf("unsupported provider %q (supported: %s)", c.Provider, strings.Join(analytics.SupportedProviders(), ", "))
	}
	for name := range c.Providers {
		if !analytics.IsSupportedProvider(name) {
			return fmt.Errorf("providers: unsupported provider %q", name)
		}
	}
	settings := c.ProviderSettings(c.Provider)
	if c.Provider == string(analytics.ProviderDevScope) && settings.BaseURL == "" {
		return fmt.Errorf("base_url is required for provider %s", c.Provider)
	}
	if settings.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", settings.Timeout)
	}
	switch c.Format {
	case FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("unsupported format %q (supported: %s, %s)", c.Format, FormatConsole, FormatJSON)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	return nil
}

// ProviderSettings returns the settings for provider with top-level values
// applied where the provider entry leaves them empty.
func (c *Config) ProviderSettings(provider string) ProviderConfig {
	settings := c.Providers[strings.ToLower(provider)]
	if settings.BaseURL == "" {
		settings.BaseURL = c.BaseURL
	}
	if settings.Token == "" {
		settings.Token = c.Token
	}
	if settings.Timeout == 0 {
		settings.Timeout = c.Timeout
	}
	return settings
}

// ParseLogLevel maps a level name to a slog.Level. An empty name is warn.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("unknown log level %q", name)
	}
}
