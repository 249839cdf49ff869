// Package main is the entry point for the study hub server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (env vars, overridden by flags)
// 2. Create dependencies (logger, database)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, ...).
//
// COMMANDS:
//
//	studyhub serve     run the HTTP API (default when no command is given)
//	studyhub migrate   apply database migrations and exit
//
// Both commands run migrations on open; `migrate` is for deploy scripts that
// want the schema ready before the server starts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/study-hub/internal/config"
	sqliteRepo "github.com/sakif/study-hub/internal/repository/sqlite"
	"github.com/sakif/study-hub/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags override the values read from
// the environment by config.Load.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "studyhub",
		Short:        "Study group and bulletin board API server",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("db", "", "SQLite database path (overrides DB_PATH)")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	serve := newServeCmd()
	root.AddCommand(serve)
	root.AddCommand(newMigrateCmd())

	// Running the binary with no command serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			db, err := openDB(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			srv, err := server.New(cfg, db, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}

			// Start blocks until SIGINT/SIGTERM cancels ctx.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port (overrides PORT)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			db, err := openDB(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading schema version: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, cfg.DBPath)
			return nil
		},
	}
}

// loadConfig reads the environment, applies any flags that were set, and
// validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}

	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Port = port
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger writes human-readable logs to stdout at the configured level.
func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

// openDB creates the database directory if needed, then opens and migrates
// the database.
func openDB(cfg config.Config, logger *slog.Logger) (*sqliteRepo.DB, error) {
	if cfg.DBPath != ":memory:" {
		// os.MkdirAll is `mkdir -p`. 0755 = owner rwx, others rx.
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
