package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/kafka"
	"github.com/finanspro/dbo/internal/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	log.Info().Msg("Starting Audit Worker...")

	consumer, err := kafka.NewConsumer(kafka.DefaultConfig(cfg.Kafka.Brokers), &log, kafka.GroupAuditWorker, kafka.AuditTopics...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka consumer")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	security := logger.Security(log)
	if err := consumer.Run(ctx, auditHandler(&security)); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Audit worker stopped with error")
	}

	log.Info().Msg("Audit Worker shutdown complete")
}
