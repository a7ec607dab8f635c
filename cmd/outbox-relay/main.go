package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/database"
	"github.com/finanspro/dbo/internal/kafka"
	"github.com/finanspro/dbo/internal/logger"
	"github.com/finanspro/dbo/internal/outbox"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	log.Info().Msg("Starting Outbox Relay Service...")

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	kProducer, err := kafka.NewProducer(kafka.DefaultConfig(cfg.Kafka.Brokers), &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer kProducer.Close()

	relay := outbox.NewRelay(db.Pool, kProducer, &log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Relay service stopped with error")
	}

	log.Info().Msg("Outbox Relay shutdown complete")
}
