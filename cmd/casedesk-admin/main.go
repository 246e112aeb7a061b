// Command casedesk-admin runs operator tasks against the casedesk database:
// schema migrations, staff account bootstrap, and search reindexing.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"casedesk/api/internal/config"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

type rootOptions struct {
	cfg config.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "casedesk-admin",
		Short:         "Operator tasks for the casedesk API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			util.InitLogger(cfg.LogLevel, cfg.LogFile)
			return nil
		},
	}

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newCreateUserCommand(opts))
	cmd.AddCommand(newReindexCommand(opts))
	return cmd
}

func connect(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	return store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2})
}

// openDB connects and applies pending migrations so every command sees the
// current schema.
func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var down, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations from the configured migrations directory.

With --down the most recently applied migration is reverted instead.
With --status every known migration is listed with the time it was applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down && status {
				return fmt.Errorf("--down and --status cannot be combined")
			}
			ctx := cmd.Context()
			db, err := connect(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			switch {
			case status:
				states, err := store.MigrationStatus(ctx, db, opts.cfg.MigrationsDir)
				if err != nil {
					return err
				}
				for _, state := range states {
					applied := "pending"
					if state.AppliedAt != nil {
						applied = state.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%-40s %s\n", state.Name, applied)
				}
			case down:
				name, err := store.RollbackMigration(ctx, db, opts.cfg.MigrationsDir)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "rolled back", name)
			default:
				if err := store.ApplyMigrations(ctx, db, opts.cfg.MigrationsDir); err != nil {
					return err
				}
				fmt.Fprintln(out, "migrations applied from", opts.cfg.MigrationsDir)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "revert the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "list migrations and when they were applied")
	return cmd
}
