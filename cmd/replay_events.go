package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/issue-tracker/internal/application"
	"github.com/psds-microservice/issue-tracker/internal/database"
	"github.com/psds-microservice/issue-tracker/internal/kafka"
	"github.com/psds-microservice/issue-tracker/internal/logger"
)

var replayEventsCmd = &cobra.Command{
	Use:   "replay-events",
	Short: "Publish a ticket.updated event for every ticket to KAFKA_TOPIC_TICKET",
	RunE:  runReplayEvents,
}

var replayBatchSize int

func init() {
	replayEventsCmd.Flags().IntVar(&replayBatchSize, "batch", 50, "tickets loaded per query")
	rootCmd.AddCommand(replayEventsCmd)
}

func runReplayEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if !cfg.KafkaEnabled() {
		log.Warn("replay-events: KAFKA_BROKERS or KAFKA_TOPIC_TICKET not set, nothing to do")
		return nil
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	svcs := application.NewServices(cfg, db, producer, log)
	sent, err := svcs.Tickets.Republish(ctx, replayBatchSize, func(n int) {
		log.Info("replay-events: progress", "sent", n)
	})
	if err != nil {
		return err
	}
	log.Info("replay-events: done", "sent", sent, "topic", cfg.KafkaTopicTicket)
	return nil
}
