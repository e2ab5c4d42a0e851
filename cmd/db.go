package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-chat/pkg/db"
)

// Database command flags
var (
	dbDryRun bool
	dbTarget string
	dbOutput string
)

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for penf-chat.

The schema migrations for clones, messages and mentions are compiled into
the binary and tracked in the schema_migrations table. The command connects
using the database section of the config file, DATABASE_URL or DB_* variables.

Examples:
  # Show migration status
  penf-chat db status

  # Apply all pending migrations
  penf-chat db migrate

  # Preview migrations without applying
  penf-chat db migrate --dry-run`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))

	return cmd
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Each migration runs in its own transaction together with its
schema_migrations row. If a migration fails it is rolled back and no further
migrations are attempted.`,
		Example: `  penf-chat db migrate
  penf-chat db migrate --dry-run
  penf-chat db migrate --target 002_messages`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps)
		},
	}

	cmd.Flags().BoolVar(&dbDryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&dbTarget, "target", "t", "", "Target version to migrate to (e.g., 002_messages)")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show applied, pending and drifted migrations. Drift lists versions
recorded in the database that this binary does not know about.`,
		Example: `  penf-chat db status
  penf-chat db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVarP(&dbOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, deps *Deps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	out := deps.out()
	migrations := db.Migrations()

	if dbDryRun {
		status, err := db.Status(ctx, pool, migrations)
		if err != nil {
			return fmt.Errorf("getting migration status: %w", err)
		}
		if len(status.Pending) == 0 {
			fmt.Fprintln(out, "No pending migrations.")
			return nil
		}
		fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
		for _, m := range status.Pending {
			fmt.Fprintf(out, "  %s\n", m.Name)
		}
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	result, err := db.MigrateTo(ctx, pool, migrations, dbTarget)
	if result != nil {
		for _, v := range result.Applied {
			fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
		}
	}
	if err != nil {
		fmt.Fprintf(out, "\n\033[31mMigration failed:\033[0m %v\n", err)
		return err
	}

	if len(result.Applied) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}
	fmt.Fprintf(out, "\033[32mApplied %d migration(s), skipped %d.\033[0m\n", len(result.Applied), len(result.Skipped))
	return nil
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, deps *Deps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	status, err := db.Status(ctx, pool, db.Migrations())
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	out := deps.out()
	if done, err := writeStructured(out, resolveFormat(dbOutput, cfg), status); done || err != nil {
		return err
	}
	return outputMigrationStatusText(out, status)
}

// outputMigrationStatusText formats migration status for terminal display.
func outputMigrationStatusText(out io.Writer, status *db.MigrationStatus) error {
	section := func(title string, entries []db.MigrationStatusEntry) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(out, "%s (%d):\n", title, len(entries))
		for _, m := range entries {
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "  %-26s %s\n", truncate(m.Version, 26), appliedAt)
		}
		fmt.Fprintln(out)
	}

	section("\033[32mApplied Migrations\033[0m", status.Applied)
	section("\033[33mPending Migrations\033[0m", status.Pending)
	section("\033[31mDrift - applied but unknown to this binary\033[0m", status.Drift)

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(out, "No migrations found.")
		return nil
	}

	fmt.Fprintf(out, "Summary: %d applied, %d pending, %d drift\n",
		len(status.Applied), len(status.Pending), len(status.Drift))
	return nil
}
