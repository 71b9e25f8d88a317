package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/gestionale/internal/config"
	"github.com/JakeFAU/gestionale/internal/storage/sqlite"
)

// newMigrateCmd bootstraps the SQLite schema used for local development.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the SQLite tables if they are missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Database.Driver != config.DriverSQLite {
				return fmt.Errorf("migrate only supports the %q driver, got %q", config.DriverSQLite, cfg.Database.Driver)
			}
			repo, err := sqlite.Open(cmd.Context(), cfg.Database.DSN, cfg.Database.PageSize)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if err := repo.Close(); err != nil {
				return err
			}
			cmd.Printf("schema ready in %s\n", cfg.Database.DSN)
			return nil
		},
	}
}
