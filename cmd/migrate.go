package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("migrate up: ok")
	return nil
}
