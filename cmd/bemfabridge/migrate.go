package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/database"
	"github.com/nerrad567/bemfa-bridge/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending history database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(func(db *database.DB) error {
			if err := db.Migrate(cmd.Context(), migrations.FS, "."); err != nil {
				return err
			}
			return printMigrationStatus(cmd.Context(), db, cmd.OutOrStdout())
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(func(db *database.DB) error {
			return printMigrationStatus(cmd.Context(), db, cmd.OutOrStdout())
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the newest applied migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(func(db *database.DB) error {
			return db.MigrateDown(cmd.Context(), migrations.FS, ".")
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withDatabase opens the configured database for one command. The history
// store does not need to be enabled for maintenance.
func withDatabase(fn func(*database.DB) error) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly command

	return fn(db)
}

type migrationStatuser interface {
	MigrationStatus(ctx context.Context, fsys fs.FS, dir string) ([]database.MigrationRecord, []database.Migration, error)
}

func printMigrationStatus(ctx context.Context, db migrationStatuser, out io.Writer) error {
	applied, pending, err := db.MigrationStatus(ctx, migrations.FS, ".")
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tDETAIL")
	for _, r := range applied {
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\tpending\t%s\n", m.Version, m.Name)
	}
	return tw.Flush()
}
