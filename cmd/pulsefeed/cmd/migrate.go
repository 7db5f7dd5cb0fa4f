package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulsefeed/pulsefeed/internal/store"
)

// MigrateCmd creates or updates the database schema.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true, false)
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := store.Migrate(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Println("Schema up to date.")
		return nil
	},
}
