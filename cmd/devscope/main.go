package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// build-time override (e.g. -ldflags "-X main.version=1.2.3")
var version = "dev"

// Global (root-level) flag variables
var (
	flagConfig  string
	flagVerbose bool
	flagDebug   bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		// If Execute() returns an error, logging may or may not be initialized yet.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root Cobra command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devscope",
		Short: "DevScope repository analytics dashboard",
		Long: strings.TrimSpace(`
DevScope - repository analytics dashboard

Shows the tracked repositories, an overview of commit and pull request
activity, and per-repository commit trends, pull request metrics, health
scores and generated insights. Data comes from the DevScope API or directly
from GitHub or GitLab.

Settings are read from devscope.yaml (or .toml) in the working directory or
the user config directory, DEVSCOPE_* environment variables and flags.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "Config file (default: devscope.yaml in . or the user config dir)")
	pf.String("provider", "", "Data source: devscope|github|gitlab")
	pf.String("base-url", "", "API root of the data source")
	pf.Duration("timeout", 0, "Per-request timeout")
	pf.String("state", "", "Session state file")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	pf.StringP("format", "f", "", "Output format: console|json")
	pf.Bool("no-color", false, "Disable ANSI colors (console format)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (info) logging")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging (overrides --verbose)")
	cmd.Version = version

	// Add subcommands
	cmd.AddCommand(newDashboardCmd())
	cmd.AddCommand(newReposCmd())
	cmd.AddCommand(newInsightsCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newTUICmd())
	cmd.AddCommand(newStateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// newVersionCmd prints version info (simple helper).
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "DevScope version: %s\n", version)
		},
	}
}

func initLogging() {
	var level slog.Level
	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	default:
		level = slog.LevelWarn
	}
	setLogLevel(level)
}

// setLogLevel replaces the default logger with a stderr text handler at level.
func setLogLevel(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging initialized", "level", level.String())
}

// logLevelFromFlags reports whether --verbose or --debug chose the level.
func logLevelFromFlags() bool {
	return flagVerbose || flagDebug
}
