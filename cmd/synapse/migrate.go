package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/synapse/internal/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(
		migrateAction("up", "Apply all pending migrations", cobra.NoArgs,
			func(d *db.DB, _ []string, out io.Writer) error {
				if err := d.MigrateUp(); err != nil {
					return err
				}
				fmt.Fprintln(out, "✓ All migrations applied successfully")
				return printMigrationStatus(d, out)
			}),
		migrateAction("down", "Roll back the most recent migration", cobra.NoArgs,
			func(d *db.DB, _ []string, out io.Writer) error {
				if err := d.MigrateDown(); err != nil {
					return err
				}
				fmt.Fprintln(out, "✓ Migration rolled back successfully")
				return printMigrationStatus(d, out)
			}),
		migrateAction("status", "Show the applied and latest migration versions", cobra.NoArgs,
			func(d *db.DB, _ []string, out io.Writer) error {
				return printMigrationStatus(d, out)
			}),
		migrateAction("version <n>", "Migrate up or down to version n", cobra.ExactArgs(1),
			func(d *db.DB, args []string, out io.Writer) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version number: %s", args[0])
				}
				if err := d.MigrateTo(uint(v)); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Migrated to version %d successfully\n", v)
				return nil
			}),
		migrateAction("force <n>", "Record version n without running it (dirty-state recovery only)", cobra.ExactArgs(1),
			func(d *db.DB, args []string, out io.Writer) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version number: %s", args[0])
				}
				if err := d.MigrateForce(v); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Forced migration version to %d\n", v)
				return nil
			}),
	)
	return cmd
}

// migrateAction opens the database without migrating it and runs fn.
func migrateAction(use, short string, args cobra.PositionalArgs, fn func(*db.DB, []string, io.Writer) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d, err := db.OpenDB(cfg.GetDBPath())
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer d.Close()
			return fn(d, args, cmd.OutOrStdout())
		},
	}
}

func printMigrationStatus(d *db.DB, out io.Writer) error {
	st, err := d.Status()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", st.Current)
	fmt.Fprintf(out, "Latest version: %d\n", st.Latest)
	fmt.Fprintf(out, "Pending: %d\n", st.Pending())
	fmt.Fprintf(out, "Dirty: %v\n", st.Dirty)
	if st.Dirty {
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "Inspect the database, then run: synapse migrate force <version>")
	}
	return nil
}
