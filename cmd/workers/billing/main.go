package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/database"
	"github.com/finanspro/dbo/internal/logger"
	"github.com/finanspro/dbo/internal/store/postgres"
	"github.com/finanspro/dbo/internal/subscription"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	log.Info().Str("schedule", cfg.Workflow.RenewalSchedule).Msg("Starting Billing Worker...")

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	st := postgres.New(db.Pool)
	// Renewals lock card rows in the database; the redis debit lock only
	// guards interactive requests.
	svc := subscription.NewSubscriptionService(st, nil, audit.NewOutboxEmitter(st), cfg.Workflow)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cronLog := cronLogger{log: log.With().Str("component", "cron").Logger()}
	scheduler := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := scheduler.AddJob(cfg.Workflow.RenewalSchedule, renewalJob(ctx, svc, &log)); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Workflow.RenewalSchedule).Msg("invalid renewal schedule")
	}

	scheduler.Start()
	<-ctx.Done()

	log.Info().Msg("Shutting down Billing Worker...")
	<-scheduler.Stop().Done()

	log.Info().Msg("Billing Worker shutdown complete")
}
