package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/issue-tracker/internal/application"
	"github.com/psds-microservice/issue-tracker/internal/logger"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API (default)",
	RunE:  runAPI,
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	app, err := application.NewAPI(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
