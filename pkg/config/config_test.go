package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// isolate keeps Load away from config files on the developer machine.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix) {
			name, _, _ := strings.Cut(kv, "=")
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("provider", "", "")
	fs.String("base-url", "", "")
	fs.Duration("timeout", 0, "")
	fs.String("state", "", "")
	fs.String("format", "", "")
	fs.Bool("no-color", false, "")
	return fs
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		content     string
		env         map[string]string
		args        []string
		wantErr     string
		validateFn  func(*testing.T, *Config)
		description string
	}{
		{
			name:        "yaml file",
			file:        "devscope.yaml",
			content:     "base_url: https://api.example.com\ntimeout: 45s\nformat: JSON\n",
			description: "Should read keys from a YAML file and normalize format",
			validateFn: func(t *testing.T, cfg *Config) {
				if cfg.BaseURL != "https://api.example.com" {
					t.Errorf("Expected base_url from file, got %q", cfg.BaseURL)
				}
				if cfg.Timeout != 45*time.Second {
					t.Errorf("Expected timeout 45s, got %s", cfg.Timeout)
				}
				if cfg.Format != FormatJSON {
					t.Errorf("Expected format json, got %q", cfg.Format)
				}
				if cfg.Provider != DefaultProvider {
					t.Errorf("Expected default provider, got %q", cfg.Provider)
				}
				if !strings.HasSuffix(cfg.File, "devscope.yaml") {
					t.Errorf("Expected File to record the config path, got %q", cfg.File)
				}
			},
		},
		{
			name:        "toml file",
			file:        "devscope.toml",
			content:     "provider = \"github\"\nschedule = \"*/10 * * * *\"\n\n[providers.github]\ntoken = \"gh-token\"\n",
			description: "Should read TOML and nested provider overrides",
			validateFn: func(t *testing.T, cfg *Config) {
				if cfg.Provider != "github" {
					t.Errorf("Expected provider github, got %q", cfg.Provider)
				}
				if cfg.Schedule != "*/10 * * * *" {
					t.Errorf("Expected schedule from file, got %q", cfg.Schedule)
				}
				if got := cfg.ProviderSettings("github").Token; got != "gh-token" {
					t.Errorf("Expected provider token, got %q", got)
				}
			},
		},
		{
			name:        "env overrides file",
			file:        "devscope.yaml",
			content:     "base_url: https://file.example.com\n",
			env:         map[string]string{"DEVSCOPE_BASE_URL": "https://env.example.com", "DEVSCOPE_NO_COLOR": "true"},
			description: "Environment variables take precedence over the file",
			validateFn: func(t *testing.T, cfg *Config) {
				if cfg.BaseURL != "https://env.example.com" {
					t.Errorf("Expected env base_url, got %q", cfg.BaseURL)
				}
				if !cfg.NoColor {
					t.Error("Expected no_color from env")
				}
			},
		},
		{
			name:        "flags override env",
			env:         map[string]string{"DEVSCOPE_BASE_URL": "https://env.example.com", "DEVSCOPE_TIMEOUT": "5s"},
			args:        []string{"--base-url", "https://flag.example.com", "--state", "/tmp/devscope-state.yaml"},
			description: "Explicitly set flags win; unset flags do not clobber env",
			validateFn: func(t *testing.T, cfg *Config) {
				if cfg.BaseURL != "https://flag.example.com" {
					t.Errorf("Expected flag base_url, got %q", cfg.BaseURL)
				}
				if cfg.Timeout != 5*time.Second {
					t.Errorf("Expected env timeout 5s, got %s", cfg.Timeout)
				}
				if cfg.StatePath != "/tmp/devscope-state.yaml" {
					t.Errorf("Expected --state to map to state_path, got %q", cfg.StatePath)
				}
			},
		},
		{
			name:    "devscope requires base url",
			wantErr: "base_url is required",
		},
		{
			name:    "unknown provider",
			args:    []string{"--provider", "bitbucket"},
			wantErr: "unsupported provider",
		},
		{
			name:    "bad schedule",
			env:     map[string]string{"DEVSCOPE_PROVIDER": "gitlab", "DEVSCOPE_SCHEDULE": "every now and then"},
			wantErr: "invalid schedule",
		},
		{
			name:    "bad format",
			args:    []string{"--provider", "github", "--format", "xml"},
			wantErr: "unsupported format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			if tt.file != "" {
				writeFile(t, dir, tt.file, tt.content)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			fs := testFlags()
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("Failed to parse flags: %v", err)
			}

			cfg, err := Load("", fs)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v (%s)", err, tt.description)
			}
			tt.validateFn(t, cfg)
		})
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "custom.yml", "provider: gitlab\nbase_url: https://gitlab.example.com\n")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Provider != "gitlab" || cfg.File != path {
		t.Errorf("Unexpected config: provider=%q file=%q", cfg.Provider, cfg.File)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "devscope.yaml", "base_url: [unterminated\n")

	if _, err := Load("", nil); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestProviderSettings(t *testing.T) {
	cfg := &Config{
		BaseURL: "https://api.example.com",
		Token:   "top",
		Timeout: time.Minute,
		Providers: map[string]ProviderConfig{
			"gitlab": {BaseURL: "https://gitlab.internal", Timeout: 10 * time.Second},
		},
	}

	gl := cfg.ProviderSettings("GitLab")
	if gl.BaseURL != "https://gitlab.internal" || gl.Token != "top" || gl.Timeout != 10*time.Second {
		t.Errorf("Unexpected gitlab settings: %+v", gl)
	}
	gh := cfg.ProviderSettings("github")
	if gh.BaseURL != "https://api.example.com" || gh.Timeout != time.Minute {
		t.Errorf("Expected inherited settings, got %+v", gh)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelWarn,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range tests {
		got, err := ParseLogLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}
