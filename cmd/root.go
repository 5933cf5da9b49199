package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/psds-microservice/issue-tracker/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "issue-tracker",
	Short:         "Issue tracker API: projects, tickets, messages, attachments, notifications",
	RunE:          runAPI,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
}

// loadConfig reads .env (if any) and the environment.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
