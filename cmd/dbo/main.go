package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/catalog"
	"github.com/finanspro/dbo/internal/client"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/database"
	"github.com/finanspro/dbo/internal/ledger"
	"github.com/finanspro/dbo/internal/logger"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/redis"
	"github.com/finanspro/dbo/internal/router"
	"github.com/finanspro/dbo/internal/server"
	"github.com/finanspro/dbo/internal/servicerequest"
	"github.com/finanspro/dbo/internal/subscription"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()

	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	var db *database.Database
	if cfg.Primary.Storage == "postgres" {
		db, err = database.New(cfg, &log, loggerService)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize database")
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.New(&log, &cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis client")
		}
	}

	srv, err := server.NewServer(cfg, &log, loggerService, db, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	emitter := audit.NewOutboxEmitter(srv.Store)
	auth := middleware.NewAuth(cfg.Auth)

	catalogService := catalog.NewCatalogService(srv.Store, cfg.Workflow)
	ledgerService := ledger.NewLedgerService(srv.Store, srv.Locker(), emitter)
	clientService := client.NewClientService(srv.Store, auth, emitter, cfg.Workflow)
	requestService := servicerequest.NewRequestService(srv.Store, catalogService, emitter, cfg.Workflow)
	subscriptionService := subscription.NewSubscriptionService(srv.Store, srv.Locker(), emitter, cfg.Workflow)

	handlers := &router.Handlers{
		Client:         client.NewClientHandler(clientService),
		Ledger:         ledger.NewLedgerHandler(ledgerService),
		Catalog:        catalog.NewCatalogHandler(catalogService),
		ServiceRequest: servicerequest.NewRequestHandler(requestService),
		Subscription:   subscription.NewSubscriptionHandler(subscriptionService),
	}

	r := router.NewRouter(srv, handlers)

	srv.SetupHTTPServer(r)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
