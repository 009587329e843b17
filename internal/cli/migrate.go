package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cord/platform/internal/store"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := newContext()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Migrations applied from %s\n", okMark(), cfg.MigrationsDir)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := newContext()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := store.RollbackMigration(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("roll back migration: %w", err)
			}
			if version == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Rolled back %s\n", okMark(), version)
			return nil
		},
	}
}
