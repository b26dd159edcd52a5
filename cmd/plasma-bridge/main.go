// Plasma Bridge
//
// Remote-control agent for a single owner: an interactive shell, file and
// process management and power control, served to the dashboard over a
// WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Extra-Chill/plasma-bridge/internal/audit"
	"github.com/Extra-Chill/plasma-bridge/internal/config"
	"github.com/Extra-Chill/plasma-bridge/internal/guard"
	"github.com/Extra-Chill/plasma-bridge/internal/logging"
	"github.com/Extra-Chill/plasma-bridge/internal/server"
	"github.com/Extra-Chill/plasma-bridge/internal/shell"
)

var version = "0.1.0"

const sweepInterval = time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "plasma-bridge",
		Short:        "Remote-control bridge for a single trusted dashboard",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

type serveFlags struct {
	configPath string
	addr       string
	owner      string
	auditLog   string
	shell      string
	logLevel   string
	logFormat  string
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept dashboard connections",
		Long: `Start the bridge and accept dashboard connections on /socket.

Configuration is read, in increasing priority, from built-in defaults, the
--config YAML file, the AGENT_SECRET_KEY and OWNER_ID environment variables
and finally the flags below. The shared secret is never taken from a flag.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", envOr("PLASMA_BRIDGE_CONFIG", ""), "YAML config file")
	flags.StringVar(&f.addr, "addr", config.DefaultAddr, "listen address")
	flags.StringVar(&f.owner, "owner", "", "owner identity (overrides "+config.EnvOwnerID+")")
	flags.StringVar(&f.auditLog, "audit-log", config.DefaultAuditPath, "audit log file")
	flags.StringVar(&f.shell, "shell", "", "shell to spawn per connection (default: $SHELL)")
	flags.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.StringVar(&f.logFormat, "log-format", "console", "console or json")
	return cmd
}

// apply copies the flags the user actually set over cfg.
func (f serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = f.addr
	}
	if changed("owner") {
		cfg.OwnerID = f.owner
	}
	if changed("audit-log") {
		cfg.AuditLog = f.auditLog
	}
	if changed("shell") {
		cfg.Shell.Path = f.shell
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	auditLog := audit.New(cfg.AuditLog, logger)
	defer auditLog.Close()

	g := guard.New(cfg.Secret,
		guard.NewRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window),
		guard.NewBlacklist(cfg.Blacklist.TTL))

	shellOpts := shellOptions(cfg.Shell)
	srv, err := server.NewServer(server.Config{
		Addr:          cfg.Addr,
		OwnerID:       cfg.OwnerID,
		Guard:         g,
		Audit:         auditLog,
		Shell:         &shellOpts,
		StatsInterval: cfg.Telemetry.Interval,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info().
		Str("addr", srv.Addr()).
		Str("version", version).
		Str("shell", shellOpts.Shell).
		Str("audit_log", auditLog.Path()).
		Msg("plasma bridge running")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sweep(ctx, g, logger)

	logger.Info().Msg("shutting down")
	if err := srv.Close(); err != nil {
		logger.Warn().Err(err).Msg("close")
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// sweep trims the guard's shared maps until ctx is done.
func sweep(ctx context.Context, g *guard.Guard, logger zerolog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			windows, entries := g.Sweep()
			if windows > 0 || entries > 0 {
				logger.Debug().Int("windows", windows).Int("blacklist", entries).Msg("guard sweep")
			}
		}
	}
}

func shellOptions(c config.ShellConfig) shell.Options {
	opts := shell.DefaultOptions()
	if c.Path != "" {
		opts.Shell = c.Path
	}
	if c.Cols > 0 {
		opts.Cols = c.Cols
	}
	if c.Rows > 0 {
		opts.Rows = c.Rows
	}
	if c.Term != "" {
		opts.Term = c.Term
	}
	return opts
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	var (
		configPath string
		path       string
		n          int
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				path = cfg.AuditLog
			}
			for _, line := range audit.Tail(path, n) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	tail.Flags().StringVarP(&configPath, "config", "c", envOr("PLASMA_BRIDGE_CONFIG", ""), "YAML config file")
	tail.Flags().StringVar(&path, "file", "", "audit log file (default: from config)")
	tail.Flags().IntVarP(&n, "lines", "n", audit.DefaultTail, "number of entries")

	cmd.AddCommand(tail)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "plasma-bridge v%s\n", version)
		},
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
