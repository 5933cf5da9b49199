package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/issue-tracker/internal/application"
	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/logger"
	"github.com/psds-microservice/issue-tracker/internal/service"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account with a profile (e.g. the first admin)",
	RunE:  runUserCreate,
}

var userCreateIn service.RegisterInput

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&userCreateIn.Username, "username", "", "login name")
	f.StringVar(&userCreateIn.Email, "email", "", "email address")
	f.StringVar(&userCreateIn.Password, "password", "", "password, 8 to 72 characters")
	f.StringVar(&userCreateIn.Role, "role", "admin", "admin, developer or project_manager")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")
	userCmd.AddCommand(userCreateCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	svcs := application.NewServices(cfg, db, nil, log)
	u, err := svcs.Users.Register(cmd.Context(), userCreateIn)
	if err != nil {
		return err
	}
	log.Info("user created", "id", u.ID, "username", u.Username, "role", u.Role)
	return nil
}
