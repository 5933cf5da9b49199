package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/config"
	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/handler"
	"github.com/psds-microservice/issue-tracker/internal/kafka"
	"github.com/psds-microservice/issue-tracker/internal/middleware"
	"github.com/psds-microservice/issue-tracker/internal/router"
)

// API is the HTTP server process.
type API struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *gorm.DB
	producer *kafka.Producer
	httpSrv  *http.Server
}

// NewAPI migrates the database and wires the HTTP server.
func NewAPI(cfg *config.Config, log *slog.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	svcs := NewServices(cfg, db, producer, log)

	jwtSvc := auth.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTTTLMinutes)*time.Minute)
	policy, err := auth.NewPolicy(log, auth.DefaultPolicies)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	h := router.New(router.Deps{
		Health:        handler.NewHealthHandler(db),
		Tickets:       handler.NewTicketHandler(svcs.Tickets, svcs.Messages, svcs.Attachments, svcs.Categories, log),
		Projects:      handler.NewProjectHandler(svcs.Projects, log),
		Users:         handler.NewUserHandler(svcs.Users, svcs.Tickets, svcs.Projects, jwtSvc, log),
		Notifications: handler.NewNotificationHandler(svcs.Notifications, log),
		Auth:          middleware.NewAuth(jwtSvc, svcs.Users, log),
		Policy:        policy,
		Log:           log,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		log:      log,
		db:       db,
		producer: producer,
		httpSrv:  httpSrv,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("http server listening", "addr", a.httpSrv.Addr)
	a.log.Info("endpoints",
		"swagger", base+"/swagger",
		"health", base+"/health",
		"ready", base+"/ready",
	)
	if a.cfg.KafkaEnabled() {
		a.log.Info("publishing ticket events", "brokers", a.cfg.KafkaBrokers, "topic", a.cfg.KafkaTopicTicket)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.producer.Close(); err != nil {
		a.log.Warn("kafka producer close", "error", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	return runErr
}
