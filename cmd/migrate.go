package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"aicore/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
