package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidechat/tide/db"
	"github.com/tidechat/tide/internal/config"
	"github.com/tidechat/tide/internal/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is not set")
		}

		logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
