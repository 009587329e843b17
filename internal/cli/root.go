// Package cli implements cordctl, the operator tool for a Cord deployment.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cord/platform/internal/config"
	"cord/platform/internal/store"
)

var configPath string

// RootCmd returns the cordctl root command with every subcommand attached.
func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cordctl",
		Short: "Operate a Cord API deployment",
		Long: `cordctl manages the Cord API database, tenants and providers.

Configuration comes from the same environment variables as the API server,
optionally overlaid by a YAML file given with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment wins)")

	rootCmd.AddCommand(MigrateCmd())
	rootCmd.AddCommand(CustomerCmd())
	rootCmd.AddCommand(ProjectCmd())
	rootCmd.AddCommand(TokenCmd())
	rootCmd.AddCommand(ProviderCmd())
	rootCmd.AddCommand(PinsCmd())
	return rootCmd
}

func newContext() context.Context {
	return context.Background()
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Load(), nil
	}
	return config.LoadFile(configPath)
}

// openStore connects to the configured database. Callers close the *sql.DB.
func openStore(ctx context.Context, cfg config.Config) (*store.PostgresStore, *sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(db), db, nil
}

func okMark() string {
	return color.New(color.FgGreen).Sprint("✓")
}

func dim(value string) string {
	return color.New(color.FgHiBlack).Sprint(value)
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
