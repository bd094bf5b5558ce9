package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/greg-hellings/devscope/pkg/analytics"
	"github.com/greg-hellings/devscope/pkg/config"
	"github.com/greg-hellings/devscope/pkg/dashboard"
	"github.com/greg-hellings/devscope/pkg/dashboard/format"
	"github.com/greg-hellings/devscope/pkg/insights"
	"github.com/greg-hellings/devscope/pkg/state"
	"github.com/greg-hellings/devscope/pkg/tui"
	"github.com/greg-hellings/devscope/pkg/watch"
)

// newDashboardCmd creates the 'dashboard' subcommand.
func newDashboardCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "dashboard",
		Short: "Load the dashboard once and print it",
		Long: strings.TrimSpace(`
Load the repository list and the overview, select a repository and print
its commit trend, pull request metrics and health score.

The selected repository is, in order: --repo, the repository selected in the
previous session, or the first repository in the list.

Examples:
  devscope dashboard
  devscope dashboard --repo 42 --format json
`),
		Args: cobra.NoArgs,
		RunE: runDashboard,
	}
	c.Flags().String("repo", "", "Repository ID to select")
	return c
}

func runDashboard(cmd *cobra.Command, args []string) error {
	start := time.Now()
	a, err := newApp(cmd, "")
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.Initialize(cmd.Context()); err != nil {
		return a.explain(fmt.Errorf("failed to load dashboard: %w", err))
	}
	a.rememberSelection()

	if err := a.render(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("failed to render dashboard: %w", err)
	}
	slog.Info("Dashboard complete", "duration", time.Since(start).String())
	return nil
}

// newReposCmd creates the 'repos' subcommand.
func newReposCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List tracked repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, "")
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orch.Initialize(cmd.Context()); err != nil {
				return a.explain(fmt.Errorf("failed to load repositories: %w", err))
			}
			snap := a.orch.Snapshot()
			if a.cfg.Format == config.FormatJSON {
				repos := snap.Repositories
				if repos == nil {
					repos = []analytics.Repository{}
				}
				return writeJSON(cmd.OutOrStdout(), repos)
			}
			return a.consoleFormatter().RenderRepositories(snap, cmd.OutOrStdout())
		},
	}
}

// newInsightsCmd creates the 'insights' subcommand.
func newInsightsCmd() *cobra.Command {
	var raw, last bool
	c := &cobra.Command{
		Use:   "insights [repo-id]",
		Short: "Generate insights for a repository",
		Long: strings.TrimSpace(`
Generate a narrative for a repository and print it with headings and bullet
points laid out. The repository becomes the selection and the text is kept
in the session file; --last prints the kept text without regenerating it.

Examples:
  devscope insights 42
  devscope insights 42 --raw
  devscope insights --last
`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if last {
				return showLastInsights(cmd, raw)
			}
			if len(args) != 1 {
				return errors.New("a repository ID is required (or use --last)")
			}
			return runInsights(cmd, args[0], raw)
		},
	}
	c.Flags().BoolVar(&raw, "raw", false, "Print the text as generated")
	c.Flags().BoolVar(&last, "last", false, "Print the insights kept from the previous run")
	return c
}

func runInsights(cmd *cobra.Command, repoID string, raw bool) error {
	a, err := newApp(cmd, repoID)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.orch.Initialize(ctx); err != nil {
		return a.explain(fmt.Errorf("failed to load dashboard: %w", err))
	}
	if snap := a.orch.Snapshot(); snap.Selected == nil || snap.Selected.ID != repoID {
		if err := a.orch.SelectRepository(ctx, repoID); err != nil {
			return fmt.Errorf("failed to select repository: %w", err)
		}
	}

	doc, err := a.orch.GenerateInsights(ctx, repoID)
	if err != nil {
		return a.explain(fmt.Errorf("failed to generate insights: %w", err))
	}
	a.session.RememberSelection(a.cfg.Provider, repoID)
	a.session.RememberInsights(repoID, doc.RawText, doc.GeneratedAt)
	a.save()

	return a.printInsights(cmd, doc, raw)
}

func showLastInsights(cmd *cobra.Command, raw bool) error {
	a, err := newApp(cmd, "")
	if err != nil {
		return err
	}
	defer a.close()

	rec := a.session.LastInsights
	if rec == nil {
		return errors.New("no insights kept in the session; run 'devscope insights <repo-id>' first")
	}
	return a.printInsights(cmd, insights.NewDocument(rec.RepositoryID, rec.Text, rec.GeneratedAt), raw)
}

func (a *app) printInsights(cmd *cobra.Command, doc *insights.Document, raw bool) error {
	out := cmd.OutOrStdout()
	switch {
	case raw:
		_, err := fmt.Fprintln(out, doc.RawText)
		return err
	case a.cfg.Format == config.FormatJSON:
		return format.RenderInsightsJSON(doc, out)
	default:
		return a.consoleFormatter().RenderInsights(doc, out)
	}
}

// newImportCmd creates the 'import' subcommand.
func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import every repository visible to the data source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepositoryCommand(cmd, func(ctx context.Context, o *dashboard.Orchestrator) (*analytics.CommandResult, error) {
				return o.ImportAll(ctx)
			})
		},
	}
}

// newAddCmd creates the 'add' subcommand.
func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "add <repository-url>",
		Short:   "Start tracking a repository",
		Example: "  devscope add https://github.com/acme/api",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepositoryCommand(cmd, func(ctx context.Context, o *dashboard.Orchestrator) (*analytics.CommandResult, error) {
				return o.AddRepository(ctx, args[0])
			})
		},
	}
}

// newSyncCmd creates the 'sync' subcommand.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <repo-id>",
		Short: "Refresh stored data for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepositoryCommand(cmd, func(ctx context.Context, o *dashboard.Orchestrator) (*analytics.CommandResult, error) {
				return o.SyncRepository(ctx, args[0])
			})
		},
	}
}

// runRepositoryCommand runs a server-side command and prints its result. A
// failed catalog reload after a successful command is only a warning.
func runRepositoryCommand(cmd *cobra.Command, call func(context.Context, *dashboard.Orchestrator) (*analytics.CommandResult, error)) error {
	a, err := newApp(cmd, "")
	if err != nil {
		return err
	}
	defer a.close()

	res, err := call(cmd.Context(), a.orch)
	if err != nil && !errors.Is(err, dashboard.ErrReloadFailed) {
		return a.explain(err)
	}
	if err != nil {
		slog.Warn("Command succeeded but the repository list could not be reloaded", "error", err)
	}

	if a.cfg.Format == config.FormatJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return err
}

// newWatchCmd creates the 'watch' subcommand.
func newWatchCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "watch",
		Short: "Reload and print the dashboard on a schedule",
		Long: strings.TrimSpace(`
Load and print the dashboard, then reload and print it again on a cron
schedule until interrupted. A scheduled run is skipped while the previous
one is still going.

Examples:
  devscope watch
  devscope watch --schedule "@every 1m"
  devscope watch --schedule "0 * * * *" --format json
`),
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
	c.Flags().String("schedule", "", "Cron schedule or descriptor (default \"@every 5m\")")
	c.Flags().String("repo", "", "Repository ID to select")
	return c
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, "")
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	job := func(ctx context.Context) error {
		loadErr := a.orch.Initialize(ctx)
		if loadErr == nil {
			a.rememberSelection()
		}
		if a.cfg.Format == config.FormatConsole {
			fmt.Fprintf(out, "\n[%s]\n", time.Now().Format(time.DateTime))
		}
		if err := a.render(out); err != nil {
			return fmt.Errorf("failed to render dashboard: %w", err)
		}
		return a.explain(loadErr)
	}

	if err := job(ctx); err != nil {
		slog.Warn("Initial load failed, retrying on schedule", "error", err)
	}

	sched := watch.NewScheduler(a.cfg.Schedule, job)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	if next := sched.NextRun(); next != nil {
		slog.Info("Watching", "schedule", a.cfg.Schedule, "next", next.Format(time.DateTime))
	}

	<-ctx.Done()
	sched.Stop()
	slog.Info("Watch stopped", "runs", sched.Runs())
	return nil
}

// newTUICmd creates the 'tui' subcommand.
func newTUICmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, "")
			if err != nil {
				return err
			}
			defer a.close()

			// Log lines would tear the full-screen view.
			if !flagDebug {
				setLogLevel(slog.LevelError)
			}

			ctx := cmd.Context()
			model := tui.NewModel(ctx, a.orch, tui.Options{
				Title: a.cfg.Provider,
				OnSelect: func(repoID string) {
					a.session.RememberSelection(a.cfg.Provider, repoID)
					a.save()
				},
				OnInsights: func(doc *insights.Document) {
					a.session.RememberInsights(doc.RepositoryID, doc.RawText, doc.GeneratedAt)
					a.save()
				},
			})

			p := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithContext(ctx),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			if _, err := p.Run(); err != nil {
				if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("terminal UI failed: %w", err)
			}
			return nil
		},
	}
	c.Flags().String("repo", "", "Repository ID to select")
	return c
}

// newStateCmd creates the 'state' subcommand.
func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the saved session with credentials redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultStatePath()
			if cfg, err := config.Load(flagConfig, cmd.Flags()); err == nil {
				path = cfg.StatePath
			} else if f := cmd.Flags().Lookup("state"); f != nil && f.Changed {
				path = f.Value.String()
			} else {
				slog.Debug("Using default state path", "reason", err)
			}

			session, err := state.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
			_, err = session.RedactedCopy().WriteTo(cmd.OutOrStdout())
			return err
		},
	}
}
