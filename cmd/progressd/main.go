// Package main is the entry point of progressd, the REST progress store
// backed by PostgreSQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/basecamp-labs/progress-hub/config"
	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/persistence/memory"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/persistence/postgres"
	httpserver "github.com/basecamp-labs/progress-hub/internal/interface/http"
	"github.com/basecamp-labs/progress-hub/internal/interface/http/handlers"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "progressd",
		Short:         "BaseCamp progress store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PROGRESS_CONFIG"), "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			RunE:  runServe,
		},
		newMigrateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVE
// ══════════════════════════════════════════════════════════════════════════════

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	log.Info("starting progressd",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Progress store
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	var store httpserver.ProgressStore
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, progress is kept in memory and lost on exit")
		store = memory.NewProgressStore(progress.DefaultCatalog)
	} else {
		conn, err := connect(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection")
			conn.Close()
		}()

		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}

		health.AddCheck("database", handlers.NewPingCheck(conn))
		store = postgres.NewProgressStore(conn, progress.DefaultCatalog, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		EnableCORS:         cfg.Server.EnableCORS,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		APIKeyHeader:       "X-API-Key",
		APIKeys:            cfg.Server.APIKeys,
	}, httpserver.Dependencies{
		Store:         store,
		Catalog:       progress.DefaultCatalog,
		HealthChecker: health,
		Logger:        log,
		Version:       cfg.App.Version,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Run until a signal arrives, then shut down gracefully
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", slog.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *postgres.Migrator) error {
				return m.Migrate(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *postgres.Migrator) error {
				return m.Rollback(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *postgres.Migrator) error {
				migrations, err := m.Status(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, mig := range migrations {
					applied := "-"
					if mig.IsApplied {
						applied = mig.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", mig.Version, mig.Name, applied)
				}
				return w.Flush()
			}),
		},
	)
	return cmd
}

func withMigrator(fn func(context.Context, *cobra.Command, *postgres.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		conn, err := connect(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		return fn(ctx, cmd, postgres.NewMigrator(conn))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(logger.ForEnvironment(string(cfg.App.Environment), cfg.Observability.LogLevel))
	slog.SetDefault(log)
	return cfg, log, nil
}

func connect(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	log.Info("connecting to database")
	conn, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}
