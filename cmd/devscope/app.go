package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/greg-hellings/devscope/pkg/analytics"
	"github.com/greg-hellings/devscope/pkg/config"
	"github.com/greg-hellings/devscope/pkg/dashboard"
	"github.com/greg-hellings/devscope/pkg/dashboard/format"
	"github.com/greg-hellings/devscope/pkg/state"
	"github.com/greg-hellings/devscope/pkg/telemetry/metrics"
)

// app bundles everything a dashboard command needs.
type app struct {
	cfg     *config.Config
	session *state.Session
	orch    *dashboard.Orchestrator
	metrics *metrics.Collector

	// persist is false when the session file could not be read; it is
	// then left untouched.
	persist     bool
	stopMetrics func()
}

// newApp loads configuration and session state and builds the orchestrator.
// A non-empty preferred repository wins over --repo and the remembered
// selection.
func newApp(cmd *cobra.Command, preferred string) (*app, error) {
	cfg, err := config.Load(flagConfig, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !logLevelFromFlags() {
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		setLogLevel(level)
	}
	slog.Debug("Configuration loaded", "file", cfg.File, "provider", cfg.Provider, "format", cfg.Format)

	a := &app{cfg: cfg, persist: true}
	a.session, err = state.Load(cfg.StatePath)
	if err != nil {
		slog.Warn("Ignoring unreadable session state", "path", cfg.StatePath, "error", err)
		a.session = state.NewSession()
		a.persist = false
	}

	client, err := newClient(cfg, a.session)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Provider, err)
	}

	if cfg.MetricsAddr != "" {
		a.metrics = metrics.NewCollector(nil)
		addr, stop, err := serveMetrics(cfg.MetricsAddr, a.metrics)
		if err != nil {
			return nil, err
		}
		slog.Info("Serving metrics", "addr", addr)
		a.stopMetrics = stop
	}

	if preferred == "" {
		preferred = cfg.Repo
	}
	if preferred == "" {
		preferred = a.session.PreferredRepository(cfg.Provider)
	}
	a.orch = dashboard.New(client,
		dashboard.WithMetrics(a.metrics),
		dashboard.WithPreferredRepository(preferred),
	)
	return a, nil
}

// newClient creates the analytics client for the configured provider. The
// DevScope API always authenticates, so a missing credential surfaces as
// Unauthorized on the first request. GitHub and GitLab fall back to
// anonymous access.
func newClient(cfg *config.Config, session *state.Session) (analytics.Client, error) {
	settings := cfg.ProviderSettings(cfg.Provider)
	store := state.NewSessionCredentialStore(session)

	var tokens oauth2.TokenSource = state.TokenSource{
		Provider:    cfg.Provider,
		ConfigToken: settings.Token,
		Store:       store,
	}
	if cfg.Provider != string(analytics.ProviderDevScope) {
		tok, err := state.ResolveProviderToken(cfg.Provider, settings.Token, store)
		if err != nil {
			return nil, err
		}
		if tok == "" {
			slog.Warn("No token configured, using anonymous access",
				"provider", cfg.Provider,
				"env", state.TokenEnvName(cfg.Provider))
			tokens = nil
		} else {
			slog.Debug("Resolved credential", "provider", cfg.Provider, "token", state.RedactToken(tok))
		}
	}

	return analytics.NewClient(cfg.Provider, analytics.Config{
		BaseURL: settings.BaseURL,
		Tokens:  tokens,
		Timeout: settings.Timeout,
	})
}

// serveMetrics starts the Prometheus endpoint on addr. It returns the bound
// address and a function that shuts the server down.
func serveMetrics(addr string, c *metrics.Collector) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("Metrics server stopped", "error", err)
		}
	}()

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}, nil
}

func (a *app) close() {
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
}

// explain adds a hint to errors the user can fix.
func (a *app) explain(err error) error {
	switch {
	case errors.Is(err, analytics.ErrUnauthorized):
		return fmt.Errorf("%w (set %s or token in the config file)", err, state.TokenEnvName(a.cfg.Provider))
	case errors.Is(err, analytics.ErrUnsupported):
		return fmt.Errorf("%w (use --provider devscope)", err)
	}
	return err
}

// rememberSelection stores the current selection in the session file.
func (a *app) rememberSelection() {
	snap := a.orch.Snapshot()
	if snap.Selected == nil {
		return
	}
	a.session.RememberSelection(a.cfg.Provider, snap.Selected.ID)
	a.save()
}

func (a *app) save() {
	if !a.persist {
		return
	}
	if err := state.Save(a.session, a.cfg.StatePath); err != nil {
		slog.Warn("Failed to save session state", "path", a.cfg.StatePath, "error", err)
	}
}

func (a *app) consoleFormatter() *format.ConsoleFormatter {
	f := format.NewConsoleFormatter()
	f.EnableColors = !a.cfg.NoColor
	return f
}

// render writes the current snapshot in the configured format.
func (a *app) render(w io.Writer) error {
	snap := a.orch.Snapshot()
	if a.cfg.Format == config.FormatJSON {
		return format.RenderJSON(snap, w)
	}
	return a.consoleFormatter().Render(snap, w)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
